package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// Service emails staff about escalated conversations and completed
// appointment requests. It implements conversation.Notifier.
type Service struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

// NewService creates a notification service. staffEmail may hold several
// comma-separated addresses; when it is empty every notification is skipped.
func NewService(email EmailSender, staffEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: ParseRecipients(staffEmail),
		logger:     logger,
	}
}

// ParseRecipients splits a comma-separated address list, dropping blanks.
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Recipients returns the configured staff addresses.
func (s *Service) Recipients() []string {
	return append([]string(nil), s.recipients...)
}

// NotifyEscalation alerts staff that a patient asked for a person.
func (s *Service) NotifyEscalation(ctx context.Context, esc conversation.Escalation) error {
	at := esc.At
	if at.IsZero() {
		at = time.Now()
	}
	reason := esc.Reason
	if reason == "" {
		reason = "Keyword match"
	}
	keywords := strings.Join(esc.Keywords, ", ")
	if keywords == "" {
		keywords = "n/a"
	}

	subject := fmt.Sprintf("🚨 Conversation needs staff - %s", esc.Type)
	body := fmt.Sprintf(`A conversation was escalated and needs a staff member.

Session: %s
Organization: %s
Reason: %s
Keywords: %s
Received: %s

Patient message:
%s

Reply sent:
%s`, esc.SessionKey, esc.OrgType, reason, keywords, at.Format("January 2, 2006 at 3:04 PM"), esc.Message, esc.Reply)

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #dc2626;">🚨 Conversation needs staff</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
%s%s%s%s%s
</table>
<p><strong>Patient message:</strong></p>
<blockquote style="border-left: 4px solid #dc2626; padding-left: 12px;">%s</blockquote>
<p style="color: #6b7280; font-size: 12px;">Reply sent: %s</p>
</div>`,
		row("Session", esc.SessionKey), row("Organization", string(esc.OrgType)), row("Reason", reason),
		row("Keywords", keywords), row("Received", at.Format("January 2, 2006 at 3:04 PM")),
		html.EscapeString(esc.Message), html.EscapeString(esc.Reply))

	return s.broadcast(ctx, "escalation", EmailMessage{Subject: subject, Body: body, HTML: htmlBody})
}

// NotifyBookingRequest forwards a completed appointment form to staff.
func (s *Service) NotifyBookingRequest(ctx context.Context, req conversation.BookingRequest) error {
	specialist := req.Specialist
	if !req.HasSpecialist() {
		specialist = "No preference"
	}

	subject := fmt.Sprintf("📅 Appointment request - %s", req.Patient)
	body := fmt.Sprintf(`A patient completed the appointment form.

Patient: %s
Purpose: %s
Date: %s
Time: %s
Format: %s
Specialist: %s
Session: %s

Please confirm the appointment with the patient.`,
		req.Patient, req.Purpose, req.Date, req.Time, req.Format, specialist, req.SessionKey)

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #2563eb;">📅 Appointment request</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
%s%s%s%s%s%s
</table>
<p style="background: #eff6ff; padding: 12px; border-radius: 8px;">Please confirm the appointment with the patient.</p>
</div>`,
		row("Patient", req.Patient), row("Purpose", req.Purpose), row("Date", req.Date),
		row("Time", req.Time), row("Format", req.Format), row("Specialist", specialist))

	return s.broadcast(ctx, "booking", EmailMessage{Subject: subject, Body: body, HTML: htmlBody})
}

func (s *Service) broadcast(ctx context.Context, kind string, msg EmailMessage) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: email not configured, skipping notification", "kind", kind)
		return nil
	}

	var errs []error
	for _, recipient := range s.recipients {
		msg.To = recipient
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "to", recipient, "kind", kind)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("notify: staff email sent", "to", recipient, "kind", kind)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d notification(s) failed: %w", len(errs), len(s.recipients), errors.Join(errs...))
	}
	return nil
}

func row(label, value string) string {
	return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
		label, html.EscapeString(value))
}

var _ conversation.Notifier = (*Service)(nil)
