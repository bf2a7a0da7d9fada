package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/events"
	"github.com/mhire/triage-assistant/internal/http/respond"
	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/pkg/logging"
)

var twilioTracer = otel.Tracer("triage.internal.messaging.twilio")

const (
	// MaxSMSMessageLength bounds inbound SMS bodies, in characters.
	MaxSMSMessageLength = 1600

	defaultLogLimit = 50
	maxLogLimit     = 1000

	providerTwilio = "twilio"
)

// SendRequest is the JSON body of POST /api/v1/chat/send.
type SendRequest struct {
	MobileNumber     string `json:"mobile_number"`
	Message          string `json:"message"`
	OrganizationType string `json:"organization_type"`
}

// SendResult is returned to JSON callers of /api/v1/chat/send.
type SendResult struct {
	MobileSessionID       string                      `json:"mobile_session_id"`
	MessageSID            string                      `json:"twilio_message_sid"`
	Status                MessageStatus               `json:"twilio_status"`
	ChatbotResponse       string                      `json:"chatbot_response"`
	EscalationType        conversation.EscalationType `json:"escalation_type"`
	HumanEscalation       bool                        `json:"human_escalation"`
	AppointmentEscalation bool                        `json:"appointment_booking"`
	RequiresReview        bool                        `json:"requires_review"`
	InBooking             bool                        `json:"in_appointment_booking"`
}

// DeliveryLogResponse lists recent delivery records.
type DeliveryLogResponse struct {
	TotalLogs int              `json:"total_logs"`
	Logs      []DeliveryRecord `json:"logs"`
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Engine     *conversation.Engine
	Sender     Sender
	Deliveries *DeliveryLog
	Processed  events.ProcessedStore
	Metrics    *metrics.MessagingMetrics
	Logger     *logging.Logger

	// FromNumber is recorded as the sender on outbound delivery records.
	FromNumber string
	// AuthToken enables X-Twilio-Signature checks when ValidateSignature is set.
	AuthToken         string
	ValidateSignature bool
	// PublicBaseURL is the externally visible origin used to rebuild the
	// signed webhook URL behind proxies.
	PublicBaseURL string
	// DefaultOrgType applies to Twilio webhooks, which carry no org type.
	DefaultOrgType conversation.OrgType
}

// Handler serves the SMS endpoints.
type Handler struct {
	engine     *conversation.Engine
	sender     Sender
	deliveries *DeliveryLog
	processed  events.ProcessedStore
	metrics    *metrics.MessagingMetrics
	logger     *logging.Logger

	from          string
	authToken     string
	validate      bool
	publicBaseURL string
	defaultOrg    conversation.OrgType
}

// NewHandler creates a new messaging handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Engine == nil {
		panic("messaging: engine cannot be nil")
	}
	if cfg.Sender == nil {
		panic("messaging: sender cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Deliveries == nil {
		cfg.Deliveries = NewDeliveryLog(DefaultDeliveryLogSize)
	}
	if cfg.Processed == nil {
		cfg.Processed = events.NewMemoryProcessedStore(events.DefaultProcessedTTL)
	}
	if cfg.DefaultOrgType != conversation.OrgHRH {
		cfg.DefaultOrgType = conversation.OrgSMB
	}
	return &Handler{
		engine:        cfg.Engine,
		sender:        cfg.Sender,
		deliveries:    cfg.Deliveries,
		processed:     cfg.Processed,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		from:          strings.TrimSpace(cfg.FromNumber),
		authToken:     cfg.AuthToken,
		validate:      cfg.ValidateSignature,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		defaultOrg:    cfg.DefaultOrgType,
	}
}

// Deliveries exposes the delivery log.
func (h *Handler) Deliveries() *DeliveryLog {
	return h.deliveries
}

// Routes mounts the SMS endpoints under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat/send", h.SendChat)
	r.Get("/webhooks/visit-logged", h.DeliveryLogs)
}

type inboundSMS struct {
	mobile  string
	message string
	org     string
	form    bool
}

// SendChat handles POST /api/v1/chat/send. Form-encoded bodies are treated
// as Twilio-style deliveries (From, Body); anything else is decoded as JSON.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.chat_send")
	defer span.End()

	in, problem := decodeInbound(r)
	if problem != "" {
		h.metrics.ObserveInbound("api", "invalid")
		respond.Error(w, r, start, http.StatusBadRequest, problem)
		return
	}

	status, msg := validateInbound(in)
	if status != 0 {
		h.logger.Warn("sms request rejected", "reason", msg)
		h.metrics.ObserveInbound("api", "invalid")
		respond.Error(w, r, start, status, msg)
		return
	}
	org, ok := conversation.ParseOrgType(in.org)
	if !ok {
		h.metrics.ObserveInbound("api", "invalid")
		respond.Error(w, r, start, http.StatusUnprocessableEntity, "Invalid organization type. Must be 'SMB' or 'HRH'")
		return
	}

	resp := h.engine.HandleSMS(ctx, in.mobile, in.message, org)
	to := h.engine.Resolver().Normalize(in.mobile)
	span.SetAttributes(
		attribute.String("triage.session_key", resp.SessionKey),
		attribute.String("triage.escalation_type", string(resp.EscalationType)),
	)

	delivery, err := h.sender.Send(ctx, to, resp.Text)
	if err != nil {
		h.deliveries.Add(DeliveryRecord{
			MessageSID:   fmt.Sprintf("SEND_ERROR_%d", time.Now().Unix()),
			Status:       StatusFailed,
			From:         h.fromOrUnknown(),
			To:           to,
			ErrorCode:    DeliveryErrorCode(err),
			ErrorMessage: err.Error(),
		})
		span.RecordError(err)
		h.metrics.ObserveInbound("api", "send_failed")
		h.metrics.ObserveLatency("api", time.Since(start))
		respond.Error(w, r, start, http.StatusBadGateway, "Failed to send SMS")
		return
	}

	h.deliveries.Add(DeliveryRecord{
		MessageSID: delivery.SID,
		Status:     delivery.Status,
		From:       h.fromOrUnknown(),
		To:         to,
	})
	h.metrics.ObserveInbound("api", "processed")
	h.metrics.ObserveLatency("api", time.Since(start))
	h.logger.Info("sms processed", "session_key", resp.SessionKey, "sid", delivery.SID, "status", delivery.Status)

	if in.form {
		respond.JSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "SMS processed successfully",
		})
		return
	}
	respond.Success(w, r, start, http.StatusOK, "SMS sent successfully", SendResult{
		MobileSessionID:       resp.SessionKey,
		MessageSID:            delivery.SID,
		Status:                delivery.Status,
		ChatbotResponse:       resp.Text,
		EscalationType:        resp.EscalationType,
		HumanEscalation:       resp.HumanEscalation,
		AppointmentEscalation: resp.AppointmentEscalation,
		RequiresReview:        resp.RequiresReview,
		InBooking:             resp.InBooking,
	})
}

// decodeInbound returns a non-empty problem when the body cannot be read.
func decodeInbound(r *http.Request) (inboundSMS, string) {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return inboundSMS{}, "Invalid form body"
		}
		return inboundSMS{
			mobile:  r.PostFormValue("From"),
			message: r.PostFormValue("Body"),
			form:    true,
		}, ""
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return inboundSMS{}, "JSON request body required for manual API calls"
	}
	return inboundSMS{
		mobile:  req.MobileNumber,
		message: req.Message,
		org:     req.OrganizationType,
	}, ""
}

func validateInbound(in inboundSMS) (int, string) {
	switch {
	case strings.TrimSpace(in.mobile) == "":
		return http.StatusBadRequest, "Mobile number is required"
	case !ValidMobileNumber(in.mobile):
		return http.StatusBadRequest, "Invalid mobile number format. Please provide a valid phone number."
	case strings.TrimSpace(in.message) == "":
		return http.StatusBadRequest, "Message content is required"
	case utf8.RuneCountInString(in.message) > MaxSMSMessageLength:
		return http.StatusRequestEntityTooLarge, "Message is too long for SMS. Maximum 1600 characters allowed."
	}
	return 0, ""
}

// TwilioWebhook handles POST /messaging/twilio/webhook requests. The reply
// is returned inline as TwiML; redelivered MessageSids get an empty response.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()

	if h.validate {
		if !ValidateTwilioSignature(r, h.authToken, h.webhookURL(r)) {
			h.logger.Warn("invalid twilio signature")
			h.metrics.ObserveInbound("sms", "unauthorized")
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	from := NormalizeE164(webhook.From)
	span.SetAttributes(
		attribute.String("triage.twilio.message_sid", webhook.MessageSid),
		attribute.String("triage.twilio.from", from),
	)
	if from == "" || strings.TrimSpace(webhook.Body) == "" {
		err := errors.New("missing required twilio fields")
		h.logger.Error("invalid twilio payload", "error", err)
		h.metrics.ObserveInbound("sms", "invalid")
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if webhook.MessageSid != "" {
		first, err := h.processed.MarkProcessed(ctx, providerTwilio, webhook.MessageSid)
		if err != nil {
			h.logger.Warn("dedupe check failed, processing anyway", "error", err, "message_sid", webhook.MessageSid)
		} else if !first {
			h.logger.Info("duplicate twilio delivery ignored", "message_sid", webhook.MessageSid)
			h.metrics.ObserveInbound("sms", "duplicate")
			h.writeTwiML(w, "")
			return
		}
	}

	h.deliveries.Add(DeliveryRecord{
		MessageSID: webhook.MessageSid,
		Status:     StatusReceived,
		From:       from,
		To:         NormalizeE164(webhook.To),
	})

	body := webhook.Body
	if n := utf8.RuneCountInString(body); n > MaxSMSMessageLength {
		h.logger.Warn("inbound sms truncated",
			"message_sid", webhook.MessageSid,
			"original_length", n,
			"truncated_to", MaxSMSMessageLength,
		)
		span.SetAttributes(attribute.Int("triage.sms.original_length", n))
		body = string([]rune(body)[:MaxSMSMessageLength])
	}
	resp := h.engine.HandleSMS(ctx, from, body, h.defaultOrg)

	h.metrics.ObserveInbound("sms", "processed")
	h.metrics.ObserveLatency("sms", time.Since(start))
	h.logger.Info("twilio webhook handled",
		"session_key", resp.SessionKey,
		"message_sid", webhook.MessageSid,
		"escalation_type", resp.EscalationType,
	)
	h.writeTwiML(w, resp.Text)
}

func (h *Handler) writeTwiML(w http.ResponseWriter, body string) {
	doc, err := twimlReply(body)
	if err != nil {
		h.logger.Error("failed to render twiml", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// DeliveryLogs handles GET /api/v1/webhooks/visit-logged.
func (h *Handler) DeliveryLogs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit := defaultLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(w, r, start, http.StatusBadRequest, "Limit must be a positive integer")
			return
		}
		if n > maxLogLimit {
			respond.Error(w, r, start, http.StatusBadRequest, "Limit cannot exceed 1000")
			return
		}
		limit = n
	}

	logs := h.deliveries.Recent(limit)
	respond.Success(w, r, start, http.StatusOK, fmt.Sprintf("Retrieved %d webhook logs", len(logs)), DeliveryLogResponse{
		TotalLogs: h.deliveries.Count(),
		Logs:      logs,
	})
}

func (h *Handler) fromOrUnknown() string {
	if h.from == "" {
		return "Unknown"
	}
	return h.from
}

// webhookURL rebuilds the URL Twilio signed.
func (h *Handler) webhookURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
