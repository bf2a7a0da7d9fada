package messaging

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/pkg/logging"
)

var twilioSendTracer = otel.Tracer("triage.internal.messaging.twilio_send")

const defaultSendAttempts = 3

// ErrDeliveryFailed wraps every error returned by a Sender.
var ErrDeliveryFailed = errors.New("messaging: sms delivery failed")

// Delivery is the provider's acknowledgement of an outbound SMS.
type Delivery struct {
	SID    string
	Status MessageStatus
	From   string
}

// Sender delivers one SMS.
type Sender interface {
	Send(ctx context.Context, to, body string) (Delivery, error)
}

type twilioMessagesAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender posts SMS messages through the Twilio REST SDK.
type TwilioSender struct {
	api      twilioMessagesAPI
	from     string
	attempts int
	wait     func(ctx context.Context, attempt int) error
	metrics  *metrics.MessagingMetrics
	logger   *logging.Logger
}

// SenderOption customizes a TwilioSender.
type SenderOption func(*TwilioSender)

func WithSenderMetrics(m *metrics.MessagingMetrics) SenderOption {
	return func(s *TwilioSender) {
		s.metrics = m
	}
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger, opts ...SenderOption) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(client.Api, defaultFrom, logger, opts...)
}

func newTwilioSender(api twilioMessagesAPI, defaultFrom string, logger *logging.Logger, opts ...SenderOption) *TwilioSender {
	if api == nil {
		panic("messaging: twilio api cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &TwilioSender{
		api:      api,
		from:     strings.TrimSpace(defaultFrom),
		attempts: defaultSendAttempts,
		wait:     jitterWait,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// From returns the sending number.
func (s *TwilioSender) From() string {
	return s.from
}

// Send dispatches a single SMS, retrying transient failures. Client errors
// other than 429 are not retried.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (Delivery, error) {
	if strings.TrimSpace(to) == "" {
		return Delivery{}, fmt.Errorf("%w: to required", ErrDeliveryFailed)
	}
	if s.from == "" {
		return Delivery{}, fmt.Errorf("%w: from required", ErrDeliveryFailed)
	}
	if strings.TrimSpace(body) == "" {
		return Delivery{}, fmt.Errorf("%w: body required", ErrDeliveryFailed)
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("triage.to", to))

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		msg, err := s.api.CreateMessage(params)
		if err == nil {
			delivery := Delivery{From: s.from, Status: StatusQueued}
			if msg != nil {
				if msg.Sid != nil {
					delivery.SID = *msg.Sid
				}
				if msg.Status != nil && *msg.Status != "" {
					delivery.Status = MessageStatus(*msg.Status)
				}
			}
			s.metrics.ObserveOutbound(string(delivery.Status))
			span.SetAttributes(
				attribute.String("triage.twilio.message_sid", delivery.SID),
				attribute.Int("triage.twilio.attempts", attempt),
			)
			s.logger.Info("twilio sms sent", "to", to, "sid", delivery.SID, "status", delivery.Status)
			return delivery, nil
		}

		lastErr = err
		if !retryableTwilioError(err) {
			break
		}
		if attempt < s.attempts {
			if werr := s.wait(ctx, attempt); werr != nil {
				lastErr = werr
				break
			}
		}
	}

	s.metrics.ObserveOutbound(string(StatusFailed))
	span.RecordError(lastErr)
	s.logger.Error("twilio sms failed", "to", to, "error", lastErr)
	return Delivery{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

func retryableTwilioError(err error) bool {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status == 429 {
			return true
		}
		return restErr.Status >= 500
	}
	return true
}

// DeliveryErrorCode extracts Twilio's numeric error code from err.
func DeliveryErrorCode(err error) string {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) && restErr.Code != 0 {
		return strconv.Itoa(restErr.Code)
	}
	return ""
}

func jitterWait(ctx context.Context, _ int) error {
	timer := time.NewTimer(time.Duration(200+rand.Intn(300)) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UnavailableSender fails every send. It stands in when Twilio credentials
// are absent so the API still answers with a delivery error.
type UnavailableSender struct {
	Reason string
}

func (u UnavailableSender) Send(context.Context, string, string) (Delivery, error) {
	return Delivery{}, fmt.Errorf("%w: %s", ErrDeliveryFailed, u.Reason)
}

// SenderConfig captures the credentials required to build the outbound sender.
type SenderConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// BuildSender returns a Twilio sender when credentials are complete, and an
// UnavailableSender naming what is missing otherwise.
func BuildSender(cfg SenderConfig, logger *logging.Logger, opts ...SenderOption) (Sender, bool) {
	if logger == nil {
		logger = logging.Default()
	}
	var missing []string
	if cfg.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID missing")
	}
	if cfg.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN missing")
	}
	if cfg.FromNumber == "" {
		missing = append(missing, "TWILIO_FROM_NUMBER missing")
	}
	if len(missing) > 0 {
		reason := strings.Join(missing, ", ")
		logger.Warn("sms sender disabled", "reason", reason)
		return UnavailableSender{Reason: reason}, false
	}
	return NewTwilioSender(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber, logger, opts...), true
}
