package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/messaging"
	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/internal/session"
	"github.com/mhire/triage-assistant/pkg/logging"
)

type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, req conversation.LLMRequest) (conversation.LLMResponse, error) {
	return conversation.LLMResponse{Text: "echo: " + req.Messages[len(req.Messages)-1].Content}, nil
}

type recordingSender struct {
	to, body string
}

func (s *recordingSender) Send(_ context.Context, to, body string) (messaging.Delivery, error) {
	s.to, s.body = to, body
	return messaging.Delivery{SID: "SM-router", Status: messaging.StatusQueued}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *recordingSender) {
	t.Helper()

	logger := logging.NewWithWriter("error", io.Discard)
	reg := prometheus.NewRegistry()
	engine := conversation.NewEngine(session.NewStore(0), session.NewResolver("1"), echoLLM{}, logger,
		conversation.WithMetrics(metrics.NewConversationMetrics(reg)))
	sender := &recordingSender{}

	cfg := &Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(engine, logger),
		MessagingHandler: messaging.NewHandler(messaging.HandlerConfig{
			Engine:     engine,
			Sender:     sender,
			Logger:     logger,
			FromNumber: "+15550000000",
		}),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return New(cfg), sender
}

func TestRouterSystemEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for path, status := range map[string]string{"/": "active", "/health": "healthy"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)

		var resp struct {
			Success bool              `json:"success"`
			Data    map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, status, resp.Data["status"], path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterChatAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"what are your hours?","session_id":"s-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data struct {
			Response  string `json:"response"`
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "echo: what are your hours?", resp.Data.Response)
	assert.Equal(t, "s-1", resp.Data.SessionID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/history", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "triage_conversation_messages_total")
}

func TestRouterSMSEndpoints(t *testing.T) {
	router, sender := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send",
		strings.NewReader(`{"mobile_number":"+1 555 123 4567","message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "+15551234567", sender.to)
	assert.Equal(t, "echo: hello", sender.body)

	form := url.Values{"From": {"+15559876543"}, "Body": {"I want to book an appointment"}, "MessageSid": {"SM-in-1"}}
	req = httptest.NewRequest(http.MethodPost, "/messaging/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "xml")
	assert.Contains(t, rr.Body.String(), "<Message>")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/visit-logged?limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var logs struct {
		Data messaging.DeliveryLogResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&logs))
	assert.Equal(t, 2, logs.Data.TotalLogs)
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://clinic.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/leads", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
