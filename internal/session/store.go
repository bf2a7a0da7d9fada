package session

import (
	"sync"
	"time"
)

// DefaultHistoryLimit caps the turns retained per session.
const DefaultHistoryLimit = 20

// Store is an in-memory session table. Every operation is total: reads of
// an unknown key behave as reads of an empty session.
//
// Individual calls are atomic. Callers that read, decide and write back
// must hold Lock for the session key across the whole sequence.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	historyLimit int
	locks        *keyedMutex
	now          func() time.Time
}

// NewStore creates an empty store. A non-positive limit uses
// DefaultHistoryLimit.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		sessions:     make(map[string]*Session),
		historyLimit: historyLimit,
		locks:        newKeyedMutex(),
		now:          time.Now,
	}
}

// HistoryLimit reports the per-session turn cap.
func (s *Store) HistoryLimit() int {
	return s.historyLimit
}

// Lock serializes work on one session key. The returned func releases it and
// is safe to call more than once.
func (s *Store) Lock(key string) func() {
	return s.locks.Lock(key)
}

// GetOrCreate returns a snapshot of the session, creating an empty one on
// first access.
func (s *Store) GetOrCreate(key string) Session {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	if ok {
		snapshot := sess.clone()
		s.mu.RUnlock()
		return snapshot
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(key).clone()
}

// Get returns a snapshot of the session if it exists.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Update replaces the stored session wholesale. History beyond the cap is
// trimmed oldest first.
func (s *Store) Update(key string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.getOrCreateLocked(key)
	next := sess.clone()
	next.Key = key
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = s.now()
	next.History = s.trim(next.History)
	s.sessions[key] = &next
}

// SetBooking replaces only the booking state of a session.
func (s *Store) SetBooking(key string, booking BookingState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	sess.Booking = booking
	sess.UpdatedAt = s.now()
}

// AppendTurn adds a turn to the session history, evicting the oldest turns
// once the cap is exceeded.
func (s *Store) AppendTurn(key string, role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	now := s.now()
	sess.History = s.trim(append(sess.History, Turn{Role: role, Text: text, At: now}))
	sess.UpdatedAt = now
}

// History returns a copy of the session's turns, oldest first.
func (s *Store) History(key string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok || len(sess.History) == 0 {
		return []Turn{}
	}
	out := make([]Turn, len(sess.History))
	copy(out, sess.History)
	return out
}

// IsBooking reports whether the session is mid appointment form.
func (s *Store) IsBooking(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return ok && sess.Booking.Active
}

// Clear removes the session and reports whether it existed.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return false
	}
	delete(s.sessions, key)
	return true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		now := s.now()
		sess = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		s.sessions[key] = sess
	}
	return sess
}

func (s *Store) trim(history []Turn) []Turn {
	if len(history) <= s.historyLimit {
		return history
	}
	trimmed := make([]Turn, s.historyLimit)
	copy(trimmed, history[len(history)-s.historyLimit:])
	return trimmed
}
