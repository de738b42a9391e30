package risk

import (
	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// Scorer is the external risk-scoring model, consumed as a black box. The
// returned score is bounded to [0,1] and must be stable for identical
// inputs within one evaluation.
type Scorer interface {
	Score(fund string, instrument schema.Instrument, exposure decimal.Decimal) float64
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(fund string, instrument schema.Instrument, exposure decimal.Decimal) float64

// Score implements Scorer.
func (f ScorerFunc) Score(fund string, instrument schema.Instrument, exposure decimal.Decimal) float64 {
	return f(fund, instrument, exposure)
}

// Limits are a fund's configured constraints, read from the organization
// store.
type Limits struct {
	// MaxExposure caps the fund's absolute exposure per instrument, in
	// quantity units. Zero means uncapped.
	MaxExposure decimal.Decimal `json:"maxExposure"`
	// ScoreThreshold rejects any change when the model score at current
	// exposure exceeds it. Zero falls back to the engine default.
	ScoreThreshold float64 `json:"scoreThreshold"`
}

// Config defines engine-wide risk settings.
type Config struct {
	Version               uint16  `json:"version"`
	KillSwitch            bool    `json:"killSwitch"`
	DefaultScoreThreshold float64 `json:"defaultScoreThreshold"`
}

// Action is the outcome of an evaluation.
type Action uint16

const (
	ActionUnknown Action = iota
	ActionApprove
	ActionShrink
	ActionReject
)

// Reason is a coarse reason code for risk decisions.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonScoreExceeded
	ReasonCapitalExhausted
	ReasonZeroDelta
)

// Decision carries the admissible quantity for a proposed delta. On Shrink
// the quantity is reduced but keeps the proposed direction.
type Decision struct {
	Action Action
	Reason Reason
	Qty    decimal.Decimal
	Score  float64
}

// Engine evaluates proposed allocation changes against fund limits and the
// external scoring model. It is deterministic given its inputs and holds no
// hidden state, so re-evaluation is always safe.
type Engine struct {
	cfg    Config
	scorer Scorer
}

// NewEngine creates a risk engine around the injected scoring model.
func NewEngine(cfg Config, scorer Scorer) *Engine {
	if cfg.DefaultScoreThreshold <= 0 {
		cfg.DefaultScoreThreshold = 1
	}
	return &Engine{cfg: cfg, scorer: scorer}
}

// Evaluate decides whether a fund may apply the proposed quantity delta on
// an instrument, given its current exposure there.
//
// The score is taken at current exposure: a fund already past its risk
// threshold is rejected outright, even for zero additional exposure. A
// delta pushing absolute exposure past the capital limit is shrunk to the
// maximum admissible magnitude, preserving direction. Deltas that reduce
// absolute exposure are never shrunk.
func (e *Engine) Evaluate(fund string, limits Limits, instrument schema.Instrument, current, proposed decimal.Decimal) Decision {
	decision := Decision{
		Action: ActionApprove,
		Reason: ReasonNone,
		Qty:    proposed,
	}

	if proposed.IsZero() {
		decision.Action = ActionReject
		decision.Reason = ReasonZeroDelta
		return decision
	}

	if e.cfg.KillSwitch {
		decision.Action = ActionReject
		decision.Reason = ReasonKillSwitch
		return decision
	}

	threshold := limits.ScoreThreshold
	if threshold <= 0 {
		threshold = e.cfg.DefaultScoreThreshold
	}
	if e.scorer != nil {
		decision.Score = e.scorer.Score(fund, instrument, current)
		if decision.Score > threshold {
			decision.Action = ActionReject
			decision.Reason = ReasonScoreExceeded
			return decision
		}
	}

	if limits.MaxExposure.IsPositive() {
		next := current.Add(proposed)
		if next.Abs().Cmp(limits.MaxExposure) > 0 {
			if next.Abs().Cmp(current.Abs()) < 0 {
				// Reducing exposure is always admissible, even while over
				// the limit.
				return decision
			}
			bound := limits.MaxExposure
			if next.Sign() < 0 {
				bound = bound.Neg()
			}
			admissible := bound.Sub(current)
			if admissible.IsZero() || admissible.Sign() != proposed.Sign() {
				decision.Action = ActionReject
				decision.Reason = ReasonCapitalExhausted
				return decision
			}
			decision.Action = ActionShrink
			decision.Reason = ReasonCapitalExhausted
			decision.Qty = admissible
		}
	}

	return decision
}
