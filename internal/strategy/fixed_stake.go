package strategy

// FixedStakeStrategy applies the same EV rule as ValueStrategy but asks for
// a flat stake. The bankroll caps still apply.
type FixedStakeStrategy struct {
	BaseStrategy
	Stake float64
}

// NewFixedStakeStrategy creates a fixed stake strategy
func NewFixedStakeStrategy(threshold, minOdds, maxOdds, stake float64) *FixedStakeStrategy {
	return &FixedStakeStrategy{
		BaseStrategy: BaseStrategy{EVThreshold: threshold, MinOdds: minOdds, MaxOdds: maxOdds},
		Stake:        stake,
	}
}

// Name returns strategy name
func (s *FixedStakeStrategy) Name() string {
	return NameFixedStake
}

// Evaluate applies the EV threshold and attaches the flat stake
func (s *FixedStakeStrategy) Evaluate(c Candidate) Evaluation {
	ev := s.evaluate(NameFixedStake, c)
	if ev.Accepted {
		ev.FixedStake = s.Stake
	}
	return ev
}

// Describe returns the strategy parameters
func (s *FixedStakeStrategy) Describe() Description {
	params := s.parameters()
	params["stake"] = s.Stake
	return Description{Name: NameFixedStake, Version: "1.0.0", Parameters: params}
}
