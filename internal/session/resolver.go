package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Resolver maps raw phone numbers onto stable session keys. Results are
// cached per normalized number.
type Resolver struct {
	countryCode string

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver builds a resolver that assumes countryCode (digits only, "1"
// when empty) for numbers without one.
func NewResolver(countryCode string) *Resolver {
	countryCode = digitsOnly(countryCode)
	if countryCode == "" {
		countryCode = "1"
	}
	return &Resolver{
		countryCode: countryCode,
		cache:       make(map[string]string),
	}
}

// Normalize converts raw into +<digits> form.
//
// Ten digit numbers get the default country code. Numbers that already
// carry the code as a trunk prefix, or that were written with a leading
// plus, keep their digits as is. Anything else is assumed local.
func (r *Resolver) Normalize(raw string) string {
	cleaned := keepDialable(raw)
	digits := digitsOnly(cleaned)
	cc := r.countryCode

	switch {
	case len(digits) == 10:
		return "+" + cc + digits
	case len(digits) == 10+len(cc) && strings.HasPrefix(digits, cc):
		return "+" + digits
	case strings.HasPrefix(cleaned, "+"):
		return "+" + digits
	default:
		return "+" + cc + digits
	}
}

// ResolveSessionKey returns the session key for raw. Any input, including
// empty or malformed numbers, yields a deterministic key.
func (r *Resolver) ResolveSessionKey(raw string) string {
	normalized := r.Normalize(raw)

	r.mu.RLock()
	key, ok := r.cache[normalized]
	r.mu.RUnlock()
	if ok {
		return key
	}

	key = sessionKeyFor(normalized)
	r.mu.Lock()
	r.cache[normalized] = key
	r.mu.Unlock()
	return key
}

// Forget drops the cached mapping for raw, returning the key it held.
func (r *Resolver) Forget(raw string) (string, bool) {
	normalized := r.Normalize(raw)
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.cache[normalized]
	if ok {
		delete(r.cache, normalized)
	}
	return key, ok
}

// Len reports the number of cached mappings.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func sessionKeyFor(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return digitsOnly(normalized) + "_" + hex.EncodeToString(sum[:])[:16]
}

// keepDialable strips everything except digits and a leading plus.
func keepDialable(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
