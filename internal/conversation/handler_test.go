package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhire/triage-assistant/internal/session"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, llm LLMClient) (http.Handler, *Engine) {
	t.Helper()
	engine := newTestEngine(t, llm)
	r := chi.NewRouter()
	r.Route("/api/v1", NewHandler(engine, testLogger()).Routes)
	return r, engine
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandler_ChatValidation(t *testing.T) {
	router, _ := newTestRouter(t, &stubLLMClient{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"malformed json", `{"message":`, http.StatusBadRequest, "Invalid JSON body"},
		{"empty message", `{"message":"   "}`, http.StatusBadRequest, "Message cannot be empty"},
		{"too long", `{"message":"` + strings.Repeat("a", MaxChatMessageLength+1) + `"}`, http.StatusRequestEntityTooLarge, "Message is too long. Maximum 4000 characters allowed."},
		{"bad org", `{"message":"hi","organization_type":"clinic"}`, http.StatusUnprocessableEntity, invalidOrgTypeMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := doJSON(t, router, http.MethodPost, "/api/v1/chat", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantError, env.Error)
		})
	}
}

func TestHandler_ChatMaxLengthCountsCharacters(t *testing.T) {
	router, _ := newTestRouter(t, &stubLLMClient{})

	body := `{"message":"` + strings.Repeat("é", MaxChatMessageLength) + `"}`
	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/chat", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ChatGeneratesSessionID(t *testing.T) {
	router, engine := newTestRouter(t, &stubLLMClient{})

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/chat", `{"message":"hello there","organization_type":"hrh"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var resp Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "model reply", resp.Text)
	assert.Equal(t, EscalationNone, resp.EscalationType)
	_, err := uuid.Parse(resp.SessionKey)
	assert.NoError(t, err)
	assert.Len(t, engine.Store().History(resp.SessionKey), 2)
}

func TestHandler_ChatReusesSessionID(t *testing.T) {
	router, _ := newTestRouter(t, &stubLLMClient{})

	_, env := doJSON(t, router, http.MethodPost, "/api/v1/chat", `{"message":"book a visit","session_id":"abc"}`)
	var resp Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "abc", resp.SessionKey)
	assert.True(t, resp.AppointmentEscalation)

	_, env = doJSON(t, router, http.MethodGet, "/api/v1/sessions/abc/history", "")
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.True(t, history.InBooking)
	assert.Len(t, history.Turns, 1)
}

func TestHandler_HistoryAndClear(t *testing.T) {
	router, engine := newTestRouter(t, &stubLLMClient{})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/sessions/missing/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", env.Error)

	engine.Store().AppendTurn("s1", "user", "hello")

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := engine.Store().Get("s1")
	assert.False(t, ok)

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ClearWaitsForInFlightMessage(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	llm := &stubLLMClient{complete: func(context.Context, LLMRequest) (LLMResponse, error) {
		close(started)
		<-release
		return LLMResponse{Text: "model reply"}, nil
	}}
	router, engine := newTestRouter(t, llm)
	engine.Store().AppendTurn("s1", session.RoleUser, "earlier question")

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "s1", Message: "what are your hours?"})
	}()
	<-started

	cleared := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/s1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		cleared <- rec.Code
	}()

	select {
	case code := <-cleared:
		t.Fatalf("clear returned %d while a message was in flight", code)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-handled
	assert.Equal(t, http.StatusOK, <-cleared)
	_, ok := engine.Store().Get("s1")
	assert.False(t, ok, "session should stay cleared after the in-flight message finishes")
}

func TestHandler_ClearMobileSession(t *testing.T) {
	router, engine := newTestRouter(t, &stubLLMClient{})

	resp := engine.HandleSMS(t.Context(), "+1 555 123 4567", "hello there", OrgSMB)
	require.Equal(t, 1, engine.Store().Len())

	rec, _ := doJSON(t, router, http.MethodDelete, "/api/v1/mobile-sessions/5551234567", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := engine.Store().Get(resp.SessionKey)
	assert.False(t, ok)
	assert.Equal(t, 0, engine.Resolver().Len())

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/v1/mobile-sessions/5551234567", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
