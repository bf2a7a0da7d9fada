package conversation

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mhire/triage-assistant/internal/http/respond"
	"github.com/mhire/triage-assistant/internal/session"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// MaxChatMessageLength bounds /api/v1/chat messages, in characters.
const MaxChatMessageLength = 4000

const invalidOrgTypeMessage = "Invalid organization type. Must be 'SMB' or 'HRH'"

// ChatRequest is the JSON body of POST /api/v1/chat.
type ChatRequest struct {
	Message          string `json:"message"`
	OrganizationType string `json:"organization_type"`
	SessionID        string `json:"session_id"`
}

// HistoryResponse lists a session's turns.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	InBooking bool           `json:"in_booking"`
	Turns     []session.Turn `json:"turns"`
}

// Handler serves the JSON chat API.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Routes mounts the chat endpoints under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Get("/sessions/{sessionID}/history", h.History)
	r.Delete("/sessions/{sessionID}", h.ClearSession)
	r.Delete("/mobile-sessions/{mobileNumber}", h.ClearMobileSession)
}

// Chat handles POST /api/v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, start, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respond.Error(w, r, start, http.StatusBadRequest, "Message cannot be empty")
		return
	}
	if utf8.RuneCountInString(req.Message) > MaxChatMessageLength {
		respond.Error(w, r, start, http.StatusRequestEntityTooLarge, "Message is too long. Maximum 4000 characters allowed.")
		return
	}
	org, ok := ParseOrgType(req.OrganizationType)
	if !ok {
		respond.Error(w, r, start, http.StatusUnprocessableEntity, invalidOrgTypeMessage)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := h.engine.HandleMessage(r.Context(), MessageRequest{
		SessionKey: sessionID,
		Message:    req.Message,
		OrgType:    org,
	})
	respond.Success(w, r, start, http.StatusOK, "Chat response generated successfully", resp)
}

// History handles GET /api/v1/sessions/{sessionID}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := chi.URLParam(r, "sessionID")

	sess, ok := h.engine.Store().Get(sessionID)
	if !ok {
		respond.Error(w, r, start, http.StatusNotFound, "Session not found")
		return
	}
	turns := sess.History
	if turns == nil {
		turns = []session.Turn{}
	}
	respond.Success(w, r, start, http.StatusOK, "Session history retrieved successfully", HistoryResponse{
		SessionID: sessionID,
		InBooking: sess.Booking.Active,
		Turns:     turns,
	})
}

// ClearSession handles DELETE /api/v1/sessions/{sessionID}.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := chi.URLParam(r, "sessionID")

	if !h.engine.ClearSession(sessionID) {
		respond.Error(w, r, start, http.StatusNotFound, "Session not found")
		return
	}
	h.logger.Info("session cleared", "session_key", sessionID)
	respond.Success(w, r, start, http.StatusOK, "Session cleared successfully", map[string]string{"session_id": sessionID})
}

// ClearMobileSession handles DELETE /api/v1/mobile-sessions/{mobileNumber}.
// It drops both the cached number mapping and the session it points at.
func (h *Handler) ClearMobileSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	mobile := chi.URLParam(r, "mobileNumber")

	key, cleared := h.engine.ClearMobileSession(mobile)
	if !cleared {
		respond.Error(w, r, start, http.StatusNotFound, "No session found for mobile number")
		return
	}
	h.logger.Info("mobile session cleared", "session_key", key)
	respond.Success(w, r, start, http.StatusOK, "Mobile session cleared successfully", map[string]string{"mobile_session_id": key})
}
