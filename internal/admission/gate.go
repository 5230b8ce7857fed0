// Package admission holds the write-admission gate threaded through every write path.
// A frozen gate rejects writes to replay-authoritative entities until it is released
// or its freeze expires.
package admission

import (
	"sync"
	"time"

	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

// Gate is an explicit, shareable write-admission switch. A nil *Gate admits everything.
type Gate struct {
	mu     sync.Mutex
	reason string
	until  time.Time
	now    func() time.Time
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// Freeze rejects writes for at most ttl. A freeze must be time-bounded.
func (g *Gate) Freeze(reason string, ttl time.Duration) error {
	if g == nil {
		return exception.ErrNilInstance
	}
	if ttl <= 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "freeze ttl must be positive, got %s", ttl)
	}
	if reason == "" {
		reason = "migration"
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reason = reason
	g.until = g.clock().Add(ttl)
	return nil
}

// Release lifts any freeze.
func (g *Gate) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reason = ""
	g.until = time.Time{}
}

// Frozen reports the active freeze reason, if any.
func (g *Gate) Frozen() (string, bool) {
	if g == nil {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.until.IsZero() || !g.clock().Before(g.until) {
		return "", false
	}
	return g.reason, true
}

// Admit returns ErrWriteFrozen while a freeze is active.
func (g *Gate) Admit() error {
	if reason, frozen := g.Frozen(); frozen {
		return errors.Wrapf(exception.ErrWriteFrozen, "reason: %s", reason)
	}
	return nil
}

func (g *Gate) clock() time.Time {
	if g.now == nil {
		return time.Now()
	}
	return g.now()
}
