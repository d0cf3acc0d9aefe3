package strategy

// ValueStrategy backs every runner whose p*odds clears the threshold and
// leaves sizing to Kelly
type ValueStrategy struct {
	BaseStrategy
}

// NewValueStrategy creates a value strategy
func NewValueStrategy(threshold, minOdds, maxOdds float64) *ValueStrategy {
	return &ValueStrategy{BaseStrategy{EVThreshold: threshold, MinOdds: minOdds, MaxOdds: maxOdds}}
}

// Name returns strategy name
func (s *ValueStrategy) Name() string {
	return NameValue
}

// Evaluate applies the EV threshold to a candidate
func (s *ValueStrategy) Evaluate(c Candidate) Evaluation {
	return s.evaluate(NameValue, c)
}

// Describe returns the strategy parameters
func (s *ValueStrategy) Describe() Description {
	return Description{Name: NameValue, Version: "1.0.0", Parameters: s.parameters()}
}
