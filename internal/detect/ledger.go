package detect

import (
	"sync"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// Ledger is the per-request accumulator of contributions and run state.
// Detectors in one wave append concurrently; everything else reads after
// the wave join.
type Ledger struct {
	mu            sync.Mutex
	contributions []models.Contribution
	completed     []string
	failed        []string
	earlyExit     *models.Contribution
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// AddContributions appends a detector's evidence and records it complete.
// The first contribution carrying an early-exit verdict becomes the
// controlling contribution.
func (l *Ledger) AddContributions(detector string, contribs []models.Contribution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, detector)
	for _, c := range contribs {
		l.contributions = append(l.contributions, c)
		if c.EarlyExit != models.ExitNone && l.earlyExit == nil {
			cc := c
			l.earlyExit = &cc
		}
	}
}

// AddFailure records a detector timeout or error.
func (l *Ledger) AddFailure(detector string) {
	l.mu.Lock()
	l.failed = append(l.failed, detector)
	l.mu.Unlock()
}

// EarlyExit returns the controlling early-exit contribution, if any.
func (l *Ledger) EarlyExit() *models.Contribution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.earlyExit
}

// Contributions returns a snapshot of the accumulated evidence.
func (l *Ledger) Contributions() []models.Contribution {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Contribution, len(l.contributions))
	copy(out, l.contributions)
	return out
}

// Completed returns the names of detectors that finished.
func (l *Ledger) Completed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.completed))
	copy(out, l.completed)
	return out
}

// Failed returns the names of detectors that timed out or errored.
func (l *Ledger) Failed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.failed))
	copy(out, l.failed)
	return out
}
