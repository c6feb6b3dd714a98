package coconut

import (
	"strings"
	"sync"
	"sync/atomic"
)

// QuotaTracker records whether the AI provider has signalled quota exhaustion.
//
// The flag only moves false -> true on a classified quota error and true -> false
// on an explicit Reset (for example after an elevated credential is supplied).
// There is no time-based recovery. A flip is visible to every goroutine immediately.
type QuotaTracker struct {
	exhausted atomic.Bool

	mu        sync.RWMutex
	listeners []func(exhausted bool)
}

// NewQuotaTracker creates a tracker in the open (not exhausted) state.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{}
}

// Exhausted reports whether new AI calls must be refused.
func (q *QuotaTracker) Exhausted() bool {
	return q.exhausted.Load()
}

// SetExhausted sets the flag. Listeners run only when the value actually changes.
func (q *QuotaTracker) SetExhausted(exhausted bool) {
	if q.exhausted.Swap(exhausted) == exhausted {
		return
	}
	q.mu.RLock()
	listeners := append([]func(bool){}, q.listeners...)
	q.mu.RUnlock()
	for _, fn := range listeners {
		fn(exhausted)
	}
}

// Reset reopens the quota after an external change.
func (q *QuotaTracker) Reset() {
	q.SetExhausted(false)
}

// OnChange registers a listener called after every flip.
func (q *QuotaTracker) OnChange(fn func(exhausted bool)) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Classify reports whether err is a quota-class failure and, if so, marks the
// tracker exhausted. Classification and escalation are one step so no caller can
// check an error without propagating the quota state.
func (q *QuotaTracker) Classify(err error) bool {
	if !matchesQuotaVocabulary(err) {
		return false
	}
	q.SetExhausted(true)
	return true
}

// quotaMarkers is the provider's error vocabulary for quota exhaustion.
// It is coupled to the Gemini API and needs review if the provider changes its messages.
var quotaMarkers = []string{
	"429",
	"quota",
	"resource_exhausted",
	"limit reached",
	"exhausted",
}

func matchesQuotaVocabulary(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var defaultTracker = NewQuotaTracker()

// DefaultQuotaTracker returns the process-wide tracker.
func DefaultQuotaTracker() *QuotaTracker {
	return defaultTracker
}

// GetQuotaStatus reports the process-wide quota flag.
func GetQuotaStatus() bool {
	return defaultTracker.Exhausted()
}

// SetQuotaExhausted sets the process-wide quota flag.
func SetQuotaExhausted(exhausted bool) {
	defaultTracker.SetExhausted(exhausted)
}

// IsQuotaError classifies err against the process-wide tracker.
// A match flips the tracker to exhausted; anything else is transient and has no side effect.
func IsQuotaError(err error) bool {
	return defaultTracker.Classify(err)
}
