package backtest

import (
	"math"
	"sort"

	"github.com/yourusername/furlong/internal/models"
)

// KPIs are the headline measures of a replay. Void bets count toward
// TotalBets but not toward stake, hit rate or returns.
type KPIs struct {
	TotalBets            int     `json:"total_bets"`
	WinningBets          int     `json:"winning_bets"`
	LosingBets           int     `json:"losing_bets"`
	VoidBets             int     `json:"void_bets"`
	TotalStaked          float64 `json:"total_staked"`
	ProfitLoss           float64 `json:"profit_loss"`
	ROI                  float64 `json:"roi"`
	HitRate              float64 `json:"hit_rate"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	ExpectedROI          float64 `json:"expected_roi"`
	EVRealizedGap        float64 `json:"ev_realized_gap"`
	ProfitFactor         float64 `json:"profit_factor"`
	Expectancy           float64 `json:"expectancy"`
	AverageWin           float64 `json:"average_win"`
	AverageLoss          float64 `json:"average_loss"`
	LargestWin           float64 `json:"largest_win"`
	LargestLoss          float64 `json:"largest_loss"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	FinalBankroll        float64 `json:"final_bankroll"`
	TradingDays          int     `json:"trading_days"`
}

// CalculateKPIs derives the KPIs from settled bets and their equity curve
func CalculateKPIs(bets []*models.Bet, curve EquityCurve, riskFreeRate float64) KPIs {
	k := KPIs{
		TotalBets:     len(bets),
		MaxDrawdown:   curve.MaxDrawdown(),
		FinalBankroll: curve.Final(),
		TradingDays:   curve.TradingDays(),
	}

	var expected, winSum, lossSum float64
	streak := 0
	settled := 0
	for _, bet := range bets {
		if bet.Status == models.BetStatusVoid {
			k.VoidBets++
			continue
		}
		if !bet.Status.IsTerminal() {
			continue
		}
		settled++
		pl := bet.GetProfitLoss()
		k.TotalStaked += bet.Stake
		k.ProfitLoss += pl
		expected += bet.Stake * bet.EV

		if bet.Status == models.BetStatusWon {
			k.WinningBets++
			winSum += pl
			k.LargestWin = math.Max(k.LargestWin, pl)
			streak = 0
			continue
		}
		k.LosingBets++
		lossSum += pl
		k.LargestLoss = math.Min(k.LargestLoss, pl)
		streak++
		if streak > k.MaxConsecutiveLosses {
			k.MaxConsecutiveLosses = streak
		}
	}

	if k.TotalStaked > 0 {
		k.ROI = k.ProfitLoss / k.TotalStaked
		k.ExpectedROI = expected / k.TotalStaked
		k.EVRealizedGap = k.ExpectedROI - k.ROI
	}
	if settled > 0 {
		k.HitRate = float64(k.WinningBets) / float64(settled)
		k.Expectancy = k.ProfitLoss / float64(settled)
	}
	if k.WinningBets > 0 {
		k.AverageWin = winSum / float64(k.WinningBets)
	}
	if k.LosingBets > 0 {
		k.AverageLoss = lossSum / float64(k.LosingBets)
	}
	k.ProfitFactor = calculateProfitFactor(winSum, -lossSum)

	returns := curve.DailyReturns()
	k.SharpeRatio = calculateSharpeRatio(returns, riskFreeRate)
	k.SortinoRatio = calculateSortinoRatio(returns, riskFreeRate)
	return k
}

// FactorStats summarises a single-rule replay for the factor lifecycle
func (k KPIs) FactorStats() models.FactorStats {
	return models.FactorStats{
		SampleSize: k.WinningBets + k.LosingBets,
		HitRate:    k.HitRate,
		ROI:        k.ROI,
	}
}

func calculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := average(returns)
	std := stddev(returns)
	if std == 0 {
		return 0
	}
	return (mean - riskFreeRate/252.0) / std * math.Sqrt(252)
}

func calculateSortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := average(returns)
	std := downsideStddev(returns)
	if std == 0 {
		return 0
	}
	return (mean - riskFreeRate/252.0) / std * math.Sqrt(252)
}

// profit factor is capped for a run without a losing bet
func calculateProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return 999
		}
		return 0
	}
	return grossProfit / grossLoss
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	return mean / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := average(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func downsideStddev(values []float64) float64 {
	negatives := make([]float64, 0)
	for _, v := range values {
		if v < 0 {
			negatives = append(negatives, v)
		}
	}
	return stddev(negatives)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	idx := int(math.Floor(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
