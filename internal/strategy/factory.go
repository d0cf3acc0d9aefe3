package strategy

import (
	"fmt"
	"strings"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
)

// Strategy names accepted in configuration
const (
	NameValue      = "value"
	NameFixedStake = "fixed_stake"
)

// New builds the configured strategy
func New(cfg config.StrategyConfig) (Strategy, error) {
	switch cfg.Name {
	case NameValue:
		return NewValueStrategy(cfg.EVThreshold, cfg.MinOdds, cfg.MaxOdds), nil
	case NameFixedStake:
		if cfg.FixedStake <= 0 {
			return nil, fmt.Errorf("fixed_stake strategy requires a positive stake")
		}
		return NewFixedStakeStrategy(cfg.EVThreshold, cfg.MinOdds, cfg.MaxOdds, cfg.FixedStake), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
}

// ParseBetTypes converts configured bet type names
func ParseBetTypes(names []string) ([]models.BetType, error) {
	out := make([]models.BetType, 0, len(names))
	for _, n := range names {
		switch t := models.BetType(strings.ToUpper(n)); t {
		case models.BetTypeWin, models.BetTypePlace:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown bet type %q", n)
		}
	}
	return out, nil
}
