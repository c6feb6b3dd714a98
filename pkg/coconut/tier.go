package coconut

import (
	"context"
	"sync"
	"time"
)

// AccessTier reports whether the caller currently holds elevated ("paid") access.
// The scheduler polls it before every dispatch decision.
type AccessTier interface {
	Elevated(ctx context.Context) bool
}

// StaticTier is a fixed access tier.
type StaticTier bool

func (t StaticTier) Elevated(context.Context) bool { return bool(t) }

// TierFunc adapts a function to AccessTier.
type TierFunc func(ctx context.Context) bool

func (f TierFunc) Elevated(ctx context.Context) bool { return f(ctx) }

// CredentialTier is elevated while an elevated credential is held.
// Supplying a credential is the explicit external action that reopens the quota.
type CredentialTier struct {
	mu      sync.RWMutex
	key     string
	tracker *QuotaTracker
}

// NewCredentialTier creates a tier that resets tracker whenever a new credential is set.
func NewCredentialTier(key string, tracker *QuotaTracker) *CredentialTier {
	return &CredentialTier{key: key, tracker: tracker}
}

func (t *CredentialTier) Elevated(context.Context) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key != ""
}

// Key returns the current credential, empty under standard access.
func (t *CredentialTier) Key() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key
}

// SetCredential replaces the elevated credential and resets the quota tracker.
// An empty key drops back to standard access without touching the tracker.
func (t *CredentialTier) SetCredential(key string) {
	t.mu.Lock()
	t.key = key
	t.mu.Unlock()
	if key != "" && t.tracker != nil {
		t.tracker.Reset()
	}
}

// Policy is the admission policy of one access tier.
type Policy struct {
	// Ceiling is the maximum number of concurrently running items
	Ceiling int

	// Delay is the minimum spacing between successive starts
	Delay time.Duration
}

var (
	// ElevatedPolicy allows bursts of three with short spacing.
	ElevatedPolicy = Policy{Ceiling: 3, Delay: 200 * time.Millisecond}

	// StandardPolicy serialises requests and spaces them widely.
	StandardPolicy = Policy{Ceiling: 1, Delay: 3 * time.Second}
)
