package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRingCapacity bounds the number of records kept for /logs.
const DefaultRingCapacity = 2000

// Entry is a single captured log record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Ring is a bounded, concurrency-safe buffer of recent log records. The
// oldest record is dropped once capacity is reached.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	head    int // next write position
	size    int
}

// NewRing creates a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// Recent returns up to limit records, newest first. An empty level matches
// every record; otherwise only records of that exact level are returned.
func (r *Ring) Recent(limit int, level string) []Entry {
	if limit <= 0 {
		return []Entry{}
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "WARNING" {
		level = "WARN"
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, min(limit, r.size))
	for i := 1; i <= r.size && len(out) < limit; i++ {
		e := r.entries[(r.head-i+len(r.entries))%len(r.entries)]
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len reports the number of buffered records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap reports the maximum number of buffered records.
func (r *Ring) Cap() int {
	return len(r.entries)
}

// Clear drops every buffered record and returns how many were removed.
func (r *Ring) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	clear(r.entries)
	r.head, r.size = 0, 0
	return n
}

// teeHandler forwards records to the wrapped handler and copies them into
// the ring.
type teeHandler struct {
	next   slog.Handler
	ring   *Ring
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newTeeHandler(next slog.Handler, ring *Ring, level slog.Leveler) *teeHandler {
	return &teeHandler{next: next, ring: ring, level: level}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	entry := Entry{
		Timestamp: rec.Time,
		Level:     rec.Level.String(),
		Message:   rec.Message,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if len(h.attrs) > 0 || rec.NumAttrs() > 0 {
		entry.Attrs = make(map[string]any, len(h.attrs)+rec.NumAttrs())
		prefix := strings.Join(h.groups, ".")
		for _, a := range h.attrs {
			entry.Attrs[attrKey(prefix, a.Key)] = attrValue(a.Value)
		}
		rec.Attrs(func(a slog.Attr) bool {
			entry.Attrs[attrKey(prefix, a.Key)] = attrValue(a.Value)
			return true
		})
	}
	h.ring.add(entry)
	return h.next.Handle(ctx, rec)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func attrKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}
