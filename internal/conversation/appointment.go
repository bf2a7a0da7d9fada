package conversation

import (
	"fmt"
	"strings"

	"github.com/mhire/triage-assistant/internal/session"
)

const (
	bookingIntro         = "I'd be happy to help you book an appointment! Let me gather some information."
	bookingNextPrefix    = "Thank you! Next question:"
	bookingCancelled     = "I've cancelled the appointment booking process. Is there anything else I can help you with?"
	bookingNotActive     = "I'm not currently in appointment booking mode."
	bookingOutOfRange    = "There seems to be an error with the booking process."
	bookingNotSpecified  = "Not specified"
	bookingSummaryHeader = "Perfect! Here's a summary of your appointment request:"
	bookingSubmitted     = "✅ Your appointment request has been submitted! Our team will contact you shortly to confirm the details."
	bookingAnythingElse  = "Is there anything else I can help you with today?"
)

// Question is one field of the appointment request form.
type Question struct {
	Key      session.QuestionKey
	Prompt   string
	Required bool
}

var appointmentQuestions = []Question{
	{Key: session.QuestionPurpose, Prompt: "What is the appointment for? (e.g., general checkup, consultation, specific concern)", Required: true},
	{Key: session.QuestionPatient, Prompt: "Who is the appointment for? Please specify 'self' or provide the name of the person", Required: true},
	{Key: session.QuestionDate, Prompt: "Which date would you like for your appointment? (e.g., specific date)", Required: true},
	{Key: session.QuestionTime, Prompt: "What time would you prefer? (e.g., specific time)", Required: true},
	{Key: session.QuestionFormat, Prompt: "How would you like to attend? Please choose: phone-call, video, or onsite", Required: true},
	{Key: session.QuestionSpecialist, Prompt: "Do you have any preferred specialist or doctor? (optional - you can say 'no preference')", Required: false},
}

var cancelPhrases = []string{
	"cancel", "stop", "quit", "exit", "nevermind", "never mind",
	"abort", "back", "return", "no thanks", "not now",
}

// specialist answers that mean "no preference"
var noSpecialist = map[string]struct{}{
	"no preference": {},
	"no":            {},
	"none":          {},
}

// BookingRequest is a completed appointment form.
type BookingRequest struct {
	SessionKey string `json:"session_key,omitempty"`
	Purpose    string `json:"purpose"`
	Patient    string `json:"patient"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Format     string `json:"format"`
	Specialist string `json:"specialist,omitempty"`
}

// BookingStep is the outcome of feeding one answer to the form.
type BookingStep struct {
	State     session.BookingState
	Reply     string
	Completed bool
	// Request is set only when Completed is true.
	Request *BookingRequest
}

// BookingFlow drives the appointment form. It is stateless; callers keep
// the session.BookingState between messages.
type BookingFlow struct {
	questions []Question
}

// NewBookingFlow returns the standard six-question form.
func NewBookingFlow() *BookingFlow {
	return newBookingFlow(appointmentQuestions)
}

func newBookingFlow(questions []Question) *BookingFlow {
	if len(questions) == 0 {
		panic("conversation: booking flow needs at least one question")
	}
	seen := make(map[session.QuestionKey]bool, len(questions))
	for _, q := range questions {
		if !q.Key.Valid() {
			panic(fmt.Sprintf("conversation: unknown booking question key %d", int(q.Key)))
		}
		if seen[q.Key] {
			panic(fmt.Sprintf("conversation: duplicate booking question %s", q.Key))
		}
		seen[q.Key] = true
	}
	return &BookingFlow{questions: questions}
}

// Questions returns the form definition in asking order.
func (f *BookingFlow) Questions() []Question {
	out := make([]Question, len(f.questions))
	copy(out, f.questions)
	return out
}

// Start opens a fresh form regardless of the prior state.
func (f *BookingFlow) Start() (session.BookingState, string) {
	state := session.BookingState{Active: true}
	return state, bookingIntro + "\n\n" + f.questions[0].Prompt
}

// ProcessAnswer records text as the answer to the current question and
// advances. Misuse (idle state or a corrupt index) returns a diagnostic
// reply and leaves the state untouched.
func (f *BookingFlow) ProcessAnswer(state session.BookingState, text string) BookingStep {
	if !state.Active {
		return BookingStep{State: state, Reply: bookingNotActive}
	}
	if state.Index < 0 || state.Index >= len(f.questions) {
		return BookingStep{State: state, Reply: bookingOutOfRange}
	}

	next := state
	next.Answers.Set(f.questions[state.Index].Key, strings.TrimSpace(text))
	next.Index++

	if next.Index < len(f.questions) {
		return BookingStep{
			State: next,
			Reply: bookingNextPrefix + "\n\n" + f.questions[next.Index].Prompt,
		}
	}

	req := bookingRequestFrom(next.Answers)
	return BookingStep{
		State:     session.BookingState{},
		Reply:     confirmationText(req),
		Completed: true,
		Request:   &req,
	}
}

// Cancel abandons the form.
func (f *BookingFlow) Cancel(session.BookingState) (session.BookingState, string) {
	return session.BookingState{}, bookingCancelled
}

// CurrentQuestion returns the question awaiting an answer, if any.
func (f *BookingFlow) CurrentQuestion(state session.BookingState) (Question, bool) {
	if !state.Active || state.Index < 0 || state.Index >= len(f.questions) {
		return Question{}, false
	}
	return f.questions[state.Index], true
}

// IsCancelIntent reports whether text asks to leave the form. It matches
// substrings, so "I'll be back at 3" cancels too.
func IsCancelIntent(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range cancelPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func bookingRequestFrom(a session.Answers) BookingRequest {
	get := func(k session.QuestionKey) string {
		v, _ := a.Get(k)
		return v
	}
	return BookingRequest{
		Purpose:    get(session.QuestionPurpose),
		Patient:    get(session.QuestionPatient),
		Date:       get(session.QuestionDate),
		Time:       get(session.QuestionTime),
		Format:     get(session.QuestionFormat),
		Specialist: get(session.QuestionSpecialist),
	}
}

// HasSpecialist reports whether the patient named a specialist.
func (r BookingRequest) HasSpecialist() bool {
	s := strings.TrimSpace(r.Specialist)
	if s == "" {
		return false
	}
	_, none := noSpecialist[strings.ToLower(s)]
	return !none
}

func confirmationText(req BookingRequest) string {
	orNotSpecified := func(v string) string {
		if v == "" {
			return bookingNotSpecified
		}
		return v
	}

	var b strings.Builder
	b.WriteString(bookingSummaryHeader + "\n\n")
	b.WriteString("📅 Appointment Details:\n")
	fmt.Fprintf(&b, "• Purpose: %s\n", orNotSpecified(req.Purpose))
	fmt.Fprintf(&b, "• Patient: %s\n", orNotSpecified(req.Patient))
	fmt.Fprintf(&b, "• Date: %s\n", orNotSpecified(req.Date))
	fmt.Fprintf(&b, "• Time: %s\n", orNotSpecified(req.Time))
	fmt.Fprintf(&b, "• Format: %s\n", orNotSpecified(req.Format))
	if req.HasSpecialist() {
		fmt.Fprintf(&b, "• Preferred specialist: %s\n", req.Specialist)
	}
	b.WriteString("\n" + bookingSubmitted + "\n\n")
	b.WriteString(bookingAnythingElse)
	return b.String()
}
