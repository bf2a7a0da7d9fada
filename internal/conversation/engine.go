package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/internal/session"
	"github.com/mhire/triage-assistant/pkg/logging"
)

var engineTracer = otel.Tracer("triage.internal.conversation.engine")

const (
	emergencyReply = "Please take action immediately. Based on your message, it's important that you seek immediate medical attention or contact emergency services if this is a medical emergency."
	llmFailureReply = "I'm having trouble processing your request right now. For immediate medical concerns, please contact your healthcare provider or emergency services."

	defaultLLMTimeout   = 20 * time.Second
	defaultMaxTokens    = 300
	defaultTemperature  = 0.7
	notificationTimeout = 10 * time.Second
)

// ErrLLMFailure marks a Response whose reply is the canned fallback because
// the model call failed or timed out.
var ErrLLMFailure = errors.New("conversation: llm completion failed")

// MessageRequest is one inbound message bound to a session.
type MessageRequest struct {
	SessionKey string
	Message    string
	OrgType    OrgType
}

// Response is the engine's reply plus its routing metadata.
type Response struct {
	Text                  string         `json:"response"`
	EscalationType        EscalationType `json:"escalation_type"`
	HumanEscalation       bool           `json:"human_escalation"`
	AppointmentEscalation bool           `json:"appointment_escalation"`
	SessionKey            string         `json:"session_id"`
	RequiresReview        bool           `json:"requires_review"`
	InBooking             bool           `json:"in_booking"`
	// Failure is non-nil only when the LLM call failed; it wraps ErrLLMFailure.
	Failure error `json:"-"`
}

// Escalation is handed to the Notifier when a reply needs staff review.
type Escalation struct {
	SessionKey string
	OrgType    OrgType
	Type       EscalationType
	Message    string
	Reply      string
	Reason     string
	Keywords   []string
	At         time.Time
}

// Notifier alerts staff about escalations and completed appointment forms.
type Notifier interface {
	NotifyEscalation(ctx context.Context, esc Escalation) error
	NotifyBookingRequest(ctx context.Context, req BookingRequest) error
}

// Engine routes each message through the booking form, the escalation
// rules or the LLM, and records the exchange in the session store.
type Engine struct {
	store      *session.Store
	resolver   *session.Resolver
	classifier *Classifier
	flow       *BookingFlow
	builder    *ContextBuilder
	llm        LLMClient
	notifier   Notifier
	metrics    *metrics.ConversationMetrics
	logger     *logging.Logger

	model       string
	maxTokens   int32
	temperature float32
	llmTimeout  time.Duration
	now         func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLLMSettings overrides the model name and sampling parameters.
func WithLLMSettings(model string, maxTokens int, temperature float64) EngineOption {
	return func(e *Engine) {
		e.model = strings.TrimSpace(model)
		if maxTokens > 0 {
			e.maxTokens = int32(maxTokens)
		}
		e.temperature = float32(temperature)
	}
}

// WithLLMTimeout bounds every model call. Expiry counts as an LLM failure.
func WithLLMTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.llmTimeout = d
		}
	}
}

// WithContextWindow sets how many recent turns feed the model.
func WithContextWindow(turns int) EngineOption {
	return func(e *Engine) {
		e.builder = NewContextBuilder(turns)
	}
}

func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

func WithBookingFlow(f *BookingFlow) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.flow = f
		}
	}
}

// NewEngine wires the engine. store, resolver and llm are required.
func NewEngine(store *session.Store, resolver *session.Resolver, llm LLMClient, logger *logging.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("conversation: session store cannot be nil")
	}
	if resolver == nil {
		panic("conversation: session resolver cannot be nil")
	}
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	e := &Engine{
		store:       store,
		resolver:    resolver,
		classifier:  NewClassifier(logger),
		flow:        NewBookingFlow(),
		builder:     NewContextBuilder(DefaultContextWindow),
		llm:         llm,
		logger:      logger,
		model:       DefaultOpenAIModel,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		llmTimeout:  defaultLLMTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the session store for read-side handlers.
func (e *Engine) Store() *session.Store {
	return e.store
}

// Resolver exposes the phone number resolver.
func (e *Engine) Resolver() *session.Resolver {
	return e.resolver
}

// ClearSession removes a session while holding its lock, so an in-flight
// message for the same key finishes before the session is dropped.
func (e *Engine) ClearSession(key string) bool {
	unlock := e.store.Lock(key)
	defer unlock()
	return e.store.Clear(key)
}

// ClearMobileSession clears the session a mobile number maps to and forgets
// the mapping. It returns the resolved key.
func (e *Engine) ClearMobileSession(mobile string) (string, bool) {
	key := e.resolver.ResolveSessionKey(mobile)
	cleared := e.ClearSession(key)
	e.resolver.Forget(mobile)
	return key, cleared
}

// HandleSMS resolves the sender's session key and handles the message.
func (e *Engine) HandleSMS(ctx context.Context, from, text string, org OrgType) Response {
	return e.HandleMessage(ctx, MessageRequest{
		SessionKey: e.resolver.ResolveSessionKey(from),
		Message:    text,
		OrgType:    org,
	})
}

// HandleMessage runs one message through the decision order:
//
//  1. an active appointment form consumes the message (or is cancelled);
//  2. human-escalation keywords return the emergency referral;
//  3. appointment keywords open the form;
//  4. anything else goes to the LLM.
//
// The session lock is held for the whole sequence, including the LLM call,
// so overlapping deliveries from one sender are applied in turn.
func (e *Engine) HandleMessage(ctx context.Context, req MessageRequest) Response {
	ctx, span := engineTracer.Start(ctx, "conversation.handle_message")
	defer span.End()

	org := req.OrgType
	if org != OrgHRH {
		org = OrgSMB
	}
	span.SetAttributes(
		attribute.String("triage.session_key", req.SessionKey),
		attribute.String("triage.org_type", string(org)),
	)

	resp, branch, esc, booking := e.decide(ctx, req, org)

	resp.SessionKey = req.SessionKey
	span.SetAttributes(
		attribute.String("triage.branch", branch),
		attribute.String("triage.escalation_type", string(resp.EscalationType)),
		attribute.Bool("triage.requires_review", resp.RequiresReview),
	)
	if resp.Failure != nil {
		span.RecordError(resp.Failure)
	}
	e.metrics.ObserveMessage(branch, string(resp.EscalationType))
	e.logger.Info("message handled",
		"session_key", req.SessionKey,
		"branch", branch,
		"escalation_type", resp.EscalationType,
		"requires_review", resp.RequiresReview,
	)

	if esc != nil {
		esc.SessionKey = req.SessionKey
		esc.OrgType = org
		esc.Message = req.Message
		esc.Reply = resp.Text
		esc.At = e.now()
		e.notifyEscalation(ctx, *esc)
	}
	if booking != nil {
		booking.SessionKey = req.SessionKey
		e.notifyBooking(ctx, *booking)
	}
	return resp
}

// decide picks the branch and applies its session updates under the
// session lock.
func (e *Engine) decide(ctx context.Context, req MessageRequest, org OrgType) (Response, string, *Escalation, *BookingRequest) {
	unlock := e.store.Lock(req.SessionKey)
	defer unlock()
	defer func() { e.metrics.SetActiveSessions(e.store.Len()) }()

	sess := e.store.GetOrCreate(req.SessionKey)
	if sess.Booking.Active {
		resp, booking := e.continueBooking(req, sess.Booking)
		return resp, "booking", nil, booking
	}

	classification := e.classifier.Classify(ctx, req.Message)
	switch {
	case classification.Human:
		return e.escalateToHuman(req), "human", &Escalation{
			Type:     EscalationHuman,
			Reason:   "urgent keywords",
			Keywords: classification.Matched,
		}, nil
	case classification.Appointment:
		return e.startBooking(req), "appointment", nil, nil
	default:
		resp := e.answerWithLLM(ctx, req, org, sess.History)
		if resp.Failure != nil {
			return resp, "llm", &Escalation{Type: EscalationHuman, Reason: resp.Failure.Error()}, nil
		}
		return resp, "llm", nil, nil
	}
}

func (e *Engine) continueBooking(req MessageRequest, state session.BookingState) (Response, *BookingRequest) {
	var (
		reply     string
		next      session.BookingState
		completed bool
		request   *BookingRequest
	)

	if IsCancelIntent(req.Message) {
		next, reply = e.flow.Cancel(state)
		e.metrics.ObserveBooking("cancelled")
	} else {
		step := e.flow.ProcessAnswer(state, req.Message)
		next, reply, completed, request = step.State, step.Reply, step.Completed, step.Request
		if completed {
			e.metrics.ObserveBooking("completed")
		} else {
			e.metrics.ObserveBooking("answered")
		}
	}

	e.store.SetBooking(req.SessionKey, next)
	e.store.AppendTurn(req.SessionKey, session.RoleUser, req.Message)
	e.store.AppendTurn(req.SessionKey, session.RoleAssistant, reply)

	resp := Response{
		Text:           reply,
		EscalationType: EscalationNone,
		InBooking:      next.Active,
	}
	if next.Active {
		resp.EscalationType = EscalationAppointment
		resp.AppointmentEscalation = true
	}
	return resp, request
}

// escalateToHuman records only the assistant turn; the triggering message
// is not kept in history.
func (e *Engine) escalateToHuman(req MessageRequest) Response {
	e.store.AppendTurn(req.SessionKey, session.RoleAssistant, emergencyReply)
	return Response{
		Text:            emergencyReply,
		EscalationType:  EscalationHuman,
		HumanEscalation: true,
		RequiresReview:  true,
	}
}

func (e *Engine) startBooking(req MessageRequest) Response {
	state, reply := e.flow.Start()
	e.store.SetBooking(req.SessionKey, state)
	e.store.AppendTurn(req.SessionKey, session.RoleAssistant, reply)
	e.metrics.ObserveBooking("started")
	return Response{
		Text:                  reply,
		EscalationType:        EscalationAppointment,
		AppointmentEscalation: true,
		InBooking:             true,
	}
}

func (e *Engine) answerWithLLM(ctx context.Context, req MessageRequest, org OrgType, history []session.Turn) Response {
	messages := e.builder.Build(org, history, req.Message)
	system, rest := splitSystemAndMessages(messages)

	text, err := e.complete(ctx, LLMRequest{
		Model:       e.model,
		System:      system,
		Messages:    rest,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})

	resp := Response{Text: text, EscalationType: EscalationNone}
	if err != nil {
		resp = Response{
			Text:            llmFailureReply,
			EscalationType:  EscalationHuman,
			HumanEscalation: true,
			RequiresReview:  true,
			Failure:         err,
		}
	}

	e.store.AppendTurn(req.SessionKey, session.RoleUser, req.Message)
	e.store.AppendTurn(req.SessionKey, session.RoleAssistant, resp.Text)
	return resp
}

func (e *Engine) complete(ctx context.Context, req LLMRequest) (string, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.llm")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.Complete(callCtx, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("empty completion")
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
	}
	e.metrics.ObserveLLM(outcome, latency)
	span.SetAttributes(
		attribute.String("triage.llm.model", req.Model),
		attribute.String("triage.llm.outcome", outcome),
		attribute.Int64("triage.llm.latency_ms", latency.Milliseconds()),
		attribute.Int("triage.llm.input_tokens", int(resp.Usage.InputTokens)),
		attribute.Int("triage.llm.output_tokens", int(resp.Usage.OutputTokens)),
	)

	if err != nil {
		span.RecordError(err)
		e.logger.Warn("llm completion failed",
			"model", req.Model,
			"outcome", outcome,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return "", fmt.Errorf("%w: %w", ErrLLMFailure, err)
	}

	e.logger.Debug("llm completion finished",
		"model", req.Model,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return strings.TrimSpace(resp.Text), nil
}

// notifyEscalation and notifyBooking run after the session lock is released.
// Failures are logged; the user-facing reply is already decided.
func (e *Engine) notifyEscalation(ctx context.Context, esc Escalation) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	if err := e.notifier.NotifyEscalation(ctx, esc); err != nil {
		e.logger.Error("escalation notification failed", "session_key", esc.SessionKey, "error", err)
	}
}

func (e *Engine) notifyBooking(ctx context.Context, req BookingRequest) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	if err := e.notifier.NotifyBookingRequest(ctx, req); err != nil {
		e.logger.Error("booking notification failed", "session_key", req.SessionKey, "error", err)
	}
}
