package messaging

import (
	"sync"
	"time"
)

// DefaultDeliveryLogSize caps the in-memory delivery log.
const DefaultDeliveryLogSize = 1000

// MessageStatus mirrors Twilio's message status values.
type MessageStatus string

const (
	StatusQueued      MessageStatus = "queued"
	StatusSending     MessageStatus = "sending"
	StatusSent        MessageStatus = "sent"
	StatusFailed      MessageStatus = "failed"
	StatusDelivered   MessageStatus = "delivered"
	StatusUndelivered MessageStatus = "undelivered"
	StatusReceiving   MessageStatus = "receiving"
	StatusReceived    MessageStatus = "received"
)

// ParseMessageStatus maps a provider status string onto MessageStatus.
// Unknown values report false.
func ParseMessageStatus(s string) (MessageStatus, bool) {
	switch st := MessageStatus(s); st {
	case StatusQueued, StatusSending, StatusSent, StatusFailed,
		StatusDelivered, StatusUndelivered, StatusReceiving, StatusReceived:
		return st, true
	default:
		return "", false
	}
}

// DeliveryRecord is one inbound or outbound SMS event.
type DeliveryRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	MessageSID   string        `json:"message_sid"`
	Status       MessageStatus `json:"status"`
	From         string        `json:"from_number"`
	To           string        `json:"to_number"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// DeliveryLog keeps the most recent delivery records in a fixed ring.
type DeliveryLog struct {
	mu      sync.Mutex
	records []DeliveryRecord
	next    int
	full    bool
	now     func() time.Time
}

func NewDeliveryLog(capacity int) *DeliveryLog {
	if capacity <= 0 {
		capacity = DefaultDeliveryLogSize
	}
	return &DeliveryLog{
		records: make([]DeliveryRecord, capacity),
		now:     time.Now,
	}
}

// Add appends rec, evicting the oldest record when full. A zero Timestamp
// is stamped with the current time.
func (l *DeliveryLog) Add(rec DeliveryRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	l.records[l.next] = rec
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit records, newest first.
func (l *DeliveryLog) Recent(limit int) []DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.countLocked()
	if limit <= 0 {
		return []DeliveryRecord{}
	}
	if limit > n {
		limit = n
	}
	out := make([]DeliveryRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.records)) % len(l.records)
		out = append(out, l.records[idx])
	}
	return out
}

func (l *DeliveryLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked()
}

// Clear drops every record and returns how many were removed.
func (l *DeliveryLog) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.countLocked()
	clear(l.records)
	l.next = 0
	l.full = false
	return n
}

func (l *DeliveryLog) countLocked() int {
	if l.full {
		return len(l.records)
	}
	return l.next
}
