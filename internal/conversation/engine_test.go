package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/internal/session"
	"github.com/mhire/triage-assistant/pkg/logging"
)

type stubLLMClient struct {
	mu       sync.Mutex
	requests []LLMRequest
	complete func(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

func (s *stubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.complete
	s.mu.Unlock()
	if fn == nil {
		return LLMResponse{Text: "model reply"}, nil
	}
	return fn(ctx, req)
}

func (s *stubLLMClient) calls() []LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LLMRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

type fakeNotifier struct {
	mu          sync.Mutex
	escalations []Escalation
	bookings    []BookingRequest
	err         error
}

func (f *fakeNotifier) NotifyEscalation(_ context.Context, esc Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, esc)
	return f.err
}

func (f *fakeNotifier) NotifyBookingRequest(_ context.Context, req BookingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, req)
	return f.err
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func newTestEngine(t *testing.T, llm LLMClient, opts ...EngineOption) *Engine {
	t.Helper()
	return NewEngine(session.NewStore(0), session.NewResolver("1"), llm, testLogger(), opts...)
}

func TestEngine_LLMBranch(t *testing.T) {
	llm := &stubLLMClient{}
	engine := newTestEngine(t, llm)

	resp := engine.HandleMessage(context.Background(), MessageRequest{
		SessionKey: "s1",
		Message:    "What are common side effects of ibuprofen?",
		OrgType:    OrgSMB,
	})

	assert.Equal(t, "model reply", resp.Text)
	assert.Equal(t, EscalationNone, resp.EscalationType)
	assert.False(t, resp.HumanEscalation)
	assert.False(t, resp.AppointmentEscalation)
	assert.False(t, resp.RequiresReview)
	assert.Equal(t, "s1", resp.SessionKey)
	assert.NoError(t, resp.Failure)

	calls := llm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{smbSystemPrompt}, calls[0].System)
	require.Len(t, calls[0].Messages, 1)
	assert.Equal(t, "What are common side effects of ibuprofen?", calls[0].Messages[0].Content)
	assert.Equal(t, int32(defaultMaxTokens), calls[0].MaxTokens)

	history := engine.Store().History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, "model reply", history[1].Text)
}

func TestEngine_LLMReceivesEarlierUserTurns(t *testing.T) {
	llm := &stubLLMClient{}
	engine := newTestEngine(t, llm)
	ctx := context.Background()

	engine.HandleMessage(ctx, MessageRequest{SessionKey: "s1", Message: "first question", OrgType: OrgHRH})
	engine.HandleMessage(ctx, MessageRequest{SessionKey: "s1", Message: "second question", OrgType: OrgHRH})

	calls := llm.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{hrhSystemPrompt}, calls[1].System)
	require.Len(t, calls[1].Messages, 2)
	assert.Equal(t, "first question", calls[1].Messages[0].Content)
	assert.Equal(t, "second question", calls[1].Messages[1].Content)
}

func TestEngine_HumanEscalationTakesPriority(t *testing.T) {
	llm := &stubLLMClient{}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, llm, WithNotifier(notifier))

	resp := engine.HandleMessage(context.Background(), MessageRequest{
		SessionKey: "s1",
		Message:    "urgent, I need to book an appointment",
	})

	assert.Equal(t, emergencyReply, resp.Text)
	assert.Equal(t, EscalationHuman, resp.EscalationType)
	assert.True(t, resp.HumanEscalation)
	assert.False(t, resp.AppointmentEscalation)
	assert.True(t, resp.RequiresReview)
	assert.Empty(t, llm.calls())
	assert.False(t, engine.Store().IsBooking("s1"))

	history := engine.Store().History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleAssistant, history[0].Role)

	require.Len(t, notifier.escalations, 1)
	esc := notifier.escalations[0]
	assert.Equal(t, "s1", esc.SessionKey)
	assert.Equal(t, OrgSMB, esc.OrgType)
	assert.Equal(t, EscalationHuman, esc.Type)
	assert.Contains(t, esc.Keywords, "urgent")
}

func TestEngine_AppointmentFlow(t *testing.T) {
	llm := &stubLLMClient{}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, llm, WithNotifier(notifier))
	ctx := context.Background()
	send := func(text string) Response {
		return engine.HandleMessage(ctx, MessageRequest{SessionKey: "s1", Message: text})
	}

	resp := send("I want to schedule a visit")
	assert.Equal(t, EscalationAppointment, resp.EscalationType)
	assert.True(t, resp.AppointmentEscalation)
	assert.True(t, resp.InBooking)
	assert.True(t, strings.HasPrefix(resp.Text, bookingIntro))
	assert.True(t, engine.Store().IsBooking("s1"))

	// while the form is open, even urgent words are treated as answers
	resp = send("help with my knee")
	assert.Equal(t, EscalationAppointment, resp.EscalationType)
	assert.False(t, resp.HumanEscalation)
	assert.Contains(t, resp.Text, appointmentQuestions[1].Prompt)

	for _, answer := range []string{"self", "Monday", "10am", "onsite"} {
		resp = send(answer)
		assert.True(t, resp.InBooking)
	}

	resp = send("Dr. Lee")
	assert.Equal(t, EscalationNone, resp.EscalationType)
	assert.False(t, resp.AppointmentEscalation)
	assert.False(t, resp.InBooking)
	assert.Contains(t, resp.Text, "• Purpose: help with my knee\n")
	assert.Contains(t, resp.Text, "• Preferred specialist: Dr. Lee\n")
	assert.False(t, engine.Store().IsBooking("s1"))
	assert.Empty(t, llm.calls())

	require.Len(t, notifier.bookings, 1)
	assert.Equal(t, BookingRequest{
		SessionKey: "s1",
		Purpose:    "help with my knee",
		Patient:    "self",
		Date:       "Monday",
		Time:       "10am",
		Format:     "onsite",
		Specialist: "Dr. Lee",
	}, notifier.bookings[0])

	// start turn has no user entry; each of the six answers adds two
	assert.Len(t, engine.Store().History("s1"), 1+6*2)
}

func TestEngine_CancelBooking(t *testing.T) {
	engine := newTestEngine(t, &stubLLMClient{})
	ctx := context.Background()

	engine.HandleMessage(ctx, MessageRequest{SessionKey: "s1", Message: "book appointment"})
	resp := engine.HandleMessage(ctx, MessageRequest{SessionKey: "s1", Message: "never mind"})

	assert.Equal(t, bookingCancelled, resp.Text)
	assert.Equal(t, EscalationNone, resp.EscalationType)
	assert.False(t, resp.InBooking)
	assert.False(t, engine.Store().IsBooking("s1"))
	assert.Len(t, engine.Store().History("s1"), 3)
}

func TestEngine_LLMFailure(t *testing.T) {
	llmErr := errors.New("provider down")
	llm := &stubLLMClient{complete: func(context.Context, LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, llmErr
	}}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, llm, WithNotifier(notifier))

	resp := engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "s1", Message: "what is a fever?"})

	assert.Equal(t, llmFailureReply, resp.Text)
	assert.Equal(t, EscalationHuman, resp.EscalationType)
	assert.True(t, resp.HumanEscalation)
	assert.True(t, resp.RequiresReview)
	require.Error(t, resp.Failure)
	assert.ErrorIs(t, resp.Failure, ErrLLMFailure)
	assert.ErrorIs(t, resp.Failure, llmErr)

	history := engine.Store().History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, llmFailureReply, history[1].Text)

	require.Len(t, notifier.escalations, 1)
	assert.Contains(t, notifier.escalations[0].Reason, "provider down")
}

func TestEngine_LLMTimeout(t *testing.T) {
	llm := &stubLLMClient{complete: func(ctx context.Context, _ LLMRequest) (LLMResponse, error) {
		<-ctx.Done()
		return LLMResponse{}, ctx.Err()
	}}
	engine := newTestEngine(t, llm, WithLLMTimeout(20*time.Millisecond))

	resp := engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "s1", Message: "what is a fever?"})

	assert.Equal(t, llmFailureReply, resp.Text)
	assert.ErrorIs(t, resp.Failure, context.DeadlineExceeded)
}

func TestEngine_EmptyCompletionIsFailure(t *testing.T) {
	llm := &stubLLMClient{complete: func(context.Context, LLMRequest) (LLMResponse, error) {
		return LLMResponse{Text: "   "}, nil
	}}
	engine := newTestEngine(t, llm)

	resp := engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "s1", Message: "hi there"})

	assert.Equal(t, llmFailureReply, resp.Text)
	assert.ErrorIs(t, resp.Failure, ErrLLMFailure)
}

func TestEngine_NotifierErrorDoesNotChangeReply(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	engine := newTestEngine(t, &stubLLMClient{}, WithNotifier(notifier))

	resp := engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "s1", Message: "chest pain"})

	assert.Equal(t, emergencyReply, resp.Text)
	assert.Len(t, notifier.escalations, 1)
}

func TestEngine_HandleSMSResolvesNumber(t *testing.T) {
	engine := newTestEngine(t, &stubLLMClient{})
	ctx := context.Background()

	first := engine.HandleSMS(ctx, "(555) 123-4567", "hello there", OrgSMB)
	second := engine.HandleSMS(ctx, "+15551234567", "and again", OrgSMB)

	assert.Equal(t, first.SessionKey, second.SessionKey)
	assert.True(t, strings.HasPrefix(first.SessionKey, "15551234567_"))
	assert.Len(t, engine.Store().History(first.SessionKey), 4)
}

func TestEngine_ConcurrentMessagesForOneSessionAreSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	llm := &stubLLMClient{complete: func(context.Context, LLMRequest) (LLMResponse, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return LLMResponse{Text: "ok"}, nil
	}}
	engine := NewEngine(session.NewStore(100), session.NewResolver("1"), llm, testLogger())

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.HandleMessage(context.Background(), MessageRequest{SessionKey: "shared", Message: "question"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	history := engine.Store().History("shared")
	require.Len(t, history, 2*n)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, session.RoleUser, history[i].Role)
		assert.Equal(t, session.RoleAssistant, history[i+1].Role)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewConversationMetrics(reg)
	engine := newTestEngine(t, &stubLLMClient{}, WithMetrics(m))
	ctx := context.Background()

	engine.HandleMessage(ctx, MessageRequest{SessionKey: "a", Message: "hello there"})
	engine.HandleMessage(ctx, MessageRequest{SessionKey: "b", Message: "emergency"})

	count, err := testutil.GatherAndCount(reg, "triage_conversation_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	store := session.NewStore(0)
	resolver := session.NewResolver("1")
	llm := &stubLLMClient{}

	assert.Panics(t, func() { NewEngine(nil, resolver, llm, nil) })
	assert.Panics(t, func() { NewEngine(store, nil, llm, nil) })
	assert.Panics(t, func() { NewEngine(store, resolver, nil, nil) })
	assert.NotPanics(t, func() { NewEngine(store, resolver, llm, nil) })
}
