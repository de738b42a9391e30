package exception

import "github.com/yanun0323/errors"

// Input and policy rejections. None of these imply any state change.
var (
	ErrDuplicateSignal    = errors.New("signal: duplicate idempotency key")
	ErrUnknownInstrument  = errors.New("signal: unknown instrument")
	ErrNoEligibleFund     = errors.New("signal: no eligible fund")
	ErrManagerNotAssigned = errors.New("signal: manager not assigned to fund")
	ErrZeroQuantityDelta  = errors.New("signal: zero quantity delta")
	ErrRiskRejected       = errors.New("signal: rejected by risk gate")
)
