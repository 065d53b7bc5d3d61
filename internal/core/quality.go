package core

import "fmt"

// Verdict is the gate's decision for a reviewed unit.
type Verdict int

const (
	// VerdictReject sends the unit to the retry queue.
	VerdictReject Verdict = iota
	// VerdictAccept keeps the unit as written.
	VerdictAccept
	// VerdictPolish keeps the unit after one polish pass.
	VerdictPolish
)

func (v Verdict) String() string {
	switch v {
	case VerdictReject:
		return "reject"
	case VerdictAccept:
		return "accept"
	case VerdictPolish:
		return "polish"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// GateConfig holds the two score thresholds that partition verdicts.
// Below RejectBelow the unit is regenerated; at or above PolishAt it
// earns a polish pass; between them it is accepted as written.
type GateConfig struct {
	RejectBelow float64
	PolishAt    float64
}

func DefaultGateConfig() GateConfig {
	return GateConfig{RejectBelow: 60, PolishAt: 80}
}

func (c GateConfig) Validate() error {
	if c.RejectBelow < 0 || c.RejectBelow > 100 {
		return &ValidationError{Field: "reject_below", Message: "must be between 0 and 100"}
	}
	if c.PolishAt < 0 || c.PolishAt > 100 {
		return &ValidationError{Field: "polish_at", Message: "must be between 0 and 100"}
	}
	if c.RejectBelow >= c.PolishAt {
		return &ValidationError{Field: "reject_below", Message: "must be below polish_at"}
	}
	return nil
}

// Gate combines a unit's consistency and supervision scores and maps
// the result to a verdict.
type Gate struct {
	cfg GateConfig
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg}, nil
}

// Evaluate returns the verdict and the combined score, the plain mean
// of the two inputs.
func (g *Gate) Evaluate(consistency, supervision float64) (Verdict, float64) {
	combined := (consistency + supervision) / 2

	switch {
	case combined < g.cfg.RejectBelow:
		return VerdictReject, combined
	case combined >= g.cfg.PolishAt:
		return VerdictPolish, combined
	default:
		return VerdictAccept, combined
	}
}
