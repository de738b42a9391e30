package exception

import "github.com/yanun0323/errors"

var (
	// ErrConservationViolated means the sum of fund allocations no longer
	// equals the venue position. The ledger's truth can not be trusted past
	// this point; it is never silently repaired.
	ErrConservationViolated = errors.New("ledger: allocation conservation violated")

	// ErrInstrumentPoisoned is returned for every mutating operation on an
	// instrument after a conservation violation was observed on it.
	ErrInstrumentPoisoned = errors.New("ledger: instrument refused after consistency failure")

	ErrEmptyCommit = errors.New("ledger: commit carries no fund deltas")
)
