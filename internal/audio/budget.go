package audio

import (
	"sync"

	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/models"
)

// Ledger tracks decoded-audio seconds reserved per role. A track that
// cannot reserve its full duration falls back to streaming instead of
// decoding into memory.
type Ledger struct {
	mu       sync.Mutex
	capacity map[models.AudioRole]float64
	reserved map[models.AudioRole]float64
}

// NewLedger creates a ledger from the configured per-role budgets.
func NewLedger(cfg config.BudgetConfig) *Ledger {
	return &Ledger{
		capacity: map[models.AudioRole]float64{
			models.RoleHypno:      cfg.HypnoSeconds,
			models.RoleBackground: cfg.BackgroundSeconds,
			models.RoleGeneric:    cfg.GenericSeconds,
		},
		reserved: make(map[models.AudioRole]float64),
	}
}

// Reserve claims seconds against the role's budget. It either reserves the
// full amount or nothing.
func (l *Ledger) Reserve(role models.AudioRole, seconds float64) bool {
	if seconds <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserved[role]+seconds > l.capacity[role] {
		return false
	}
	l.reserved[role] += seconds
	return true
}

// Release returns seconds to the role's budget. Releasing more than is
// reserved clamps to zero.
func (l *Ledger) Release(role models.AudioRole, seconds float64) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reserved[role] -= seconds
	if l.reserved[role] < 0 {
		l.reserved[role] = 0
	}
}

// Remaining returns the unreserved seconds for a role.
func (l *Ledger) Remaining(role models.AudioRole) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity[role] - l.reserved[role]
}

// Reserved returns the seconds currently reserved for a role.
func (l *Ledger) Reserved(role models.AudioRole) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[role]
}

// Reset clears all reservations.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved = make(map[models.AudioRole]float64)
}
