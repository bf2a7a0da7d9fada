package conversation

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mhire/triage-assistant/pkg/logging"
)

var escalationTracer = otel.Tracer("triage.internal.conversation.escalation")

// EscalationType is the routing outcome reported with every reply.
type EscalationType string

const (
	EscalationNone        EscalationType = "none"
	EscalationHuman       EscalationType = "human_escalation"
	EscalationAppointment EscalationType = "appointment_booking"
)

// humanKeywords signal urgency or an explicit request for a person.
var humanKeywords = []string{
	"urgent", "help", "real person", "live agent",
	"chest pain", "continuous bleeding", "severe bleeding",
	"can't breathe", "difficulty breathing", "unconscious",
	"emergency", "911", "severe pain", "heart attack", "stroke",
	"allergic reaction", "overdose", "suicide", "self harm",
	"major injury", "trauma", "severe headache", "vision loss",
	"paralysis", "seizure",
}

// appointmentKeywords signal scheduling intent.
var appointmentKeywords = []string{
	"book", "schedule", "doctor", "consult", "appointment", "visit",
	"see a doctor", "clinic", "booking", "available", "when can i",
	"make appointment", "schedule visit", "book appointment",
	"see physician", "consultation",
}

// Classification is the advisory result of keyword triage. Both flags may
// be set; the engine gives the human flag priority.
type Classification struct {
	Human       bool
	Appointment bool
	Matched     []string
}

// Classifier flags messages by plain substring match against two keyword
// lists. There is no word boundary or negation handling, so "helpful" hits
// "help" and "no emergency" hits "emergency".
type Classifier struct {
	logger      *logging.Logger
	human       []string
	appointment []string
}

// NewClassifier creates a classifier over the built-in keyword lists.
func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		logger:      logger,
		human:       humanKeywords,
		appointment: appointmentKeywords,
	}
}

// Classify never fails; an empty message yields no flags.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	_, span := escalationTracer.Start(ctx, "conversation.classify")
	defer span.End()

	lower := strings.ToLower(message)
	var result Classification

	for _, kw := range c.human {
		if strings.Contains(lower, kw) {
			result.Human = true
			result.Matched = append(result.Matched, kw)
		}
	}
	for _, kw := range c.appointment {
		if strings.Contains(lower, kw) {
			result.Appointment = true
			result.Matched = append(result.Matched, kw)
		}
	}

	span.SetAttributes(
		attribute.Bool("triage.escalation.human", result.Human),
		attribute.Bool("triage.escalation.appointment", result.Appointment),
	)
	if result.Human || result.Appointment {
		c.logger.Debug("escalation keywords matched",
			"human", result.Human,
			"appointment", result.Appointment,
			"keywords", result.Matched,
		)
	}
	return result
}
