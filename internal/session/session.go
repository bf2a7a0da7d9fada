// Package session keeps per-sender conversation state in memory: the
// rolling turn history, the appointment booking progress and the mapping
// from phone numbers to session keys.
package session

import (
	"strings"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's history.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// QuestionKey names one field of the appointment request form. The set is
// closed; QuestionKeys lists it in asking order.
type QuestionKey int

const (
	QuestionPurpose QuestionKey = iota
	QuestionPatient
	QuestionDate
	QuestionTime
	QuestionFormat
	QuestionSpecialist

	questionKeyCount
)

// QuestionKeys is every question key in the order the form asks them.
var QuestionKeys = [questionKeyCount]QuestionKey{
	QuestionPurpose,
	QuestionPatient,
	QuestionDate,
	QuestionTime,
	QuestionFormat,
	QuestionSpecialist,
}

var questionKeyNames = [questionKeyCount]string{
	"purpose",
	"patient",
	"date",
	"time",
	"format",
	"specialist",
}

func (k QuestionKey) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return questionKeyNames[k]
}

// Valid reports whether k belongs to the closed key set.
func (k QuestionKey) Valid() bool {
	return k >= 0 && k < questionKeyCount
}

// ParseQuestionKey maps a field name back onto its key.
func ParseQuestionKey(name string) (QuestionKey, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range questionKeyNames {
		if n == name {
			return QuestionKey(i), true
		}
	}
	return 0, false
}

// Answers holds the optional answer for every question key. The zero value
// has no answers recorded.
type Answers struct {
	values [questionKeyCount]string
	set    [questionKeyCount]bool
}

// Get returns the answer for k and whether one was recorded.
func (a Answers) Get(k QuestionKey) (string, bool) {
	if !k.Valid() {
		return "", false
	}
	return a.values[k], a.set[k]
}

// Set records an answer. Keys outside the closed set are ignored.
func (a *Answers) Set(k QuestionKey, value string) {
	if !k.Valid() {
		return
	}
	a.values[k] = value
	a.set[k] = true
}

// Len counts recorded answers.
func (a Answers) Len() int {
	n := 0
	for _, ok := range a.set {
		if ok {
			n++
		}
	}
	return n
}

// Map renders the recorded answers keyed by field name.
func (a Answers) Map() map[string]string {
	out := make(map[string]string, a.Len())
	for _, k := range QuestionKeys {
		if v, ok := a.Get(k); ok {
			out[k.String()] = v
		}
	}
	return out
}

// BookingState is the appointment form progress. When Active is false,
// Index is zero and Answers is empty.
type BookingState struct {
	Active  bool
	Index   int
	Answers Answers
}

// Reset returns the state to idle.
func (b *BookingState) Reset() {
	*b = BookingState{}
}

// Session is a snapshot of one sender's conversation.
type Session struct {
	Key       string
	Booking   BookingState
	History   []Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Session) clone() Session {
	out := s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		copy(out.History, s.History)
	}
	return out
}
