package backtest

import (
	"bytes"
	"strconv"
	"time"

	"github.com/yourusername/furlong/internal/models"
)

// EquityPoint represents a point in the equity curve
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Day      string    `json:"day"`
	Value    float64   `json:"value"`
	Drawdown float64   `json:"drawdown"`
}

// EquityCurve represents a time-series of equity points
type EquityCurve []EquityPoint

// CurveFromBets walks settled bets in order from the initial balance. The
// first point is the opening balance.
func CurveFromBets(bets []*models.Bet, initial float64) EquityCurve {
	curve := make(EquityCurve, 0, len(bets)+1)
	value, peak := initial, initial
	var start time.Time
	var day string
	if len(bets) > 0 {
		start, day = bets[0].PlacedAt, bets[0].TradingDay
	}
	curve = append(curve, EquityPoint{Time: start, Day: day, Value: value})

	for _, bet := range bets {
		if bet.SettledAt == nil {
			continue
		}
		value += bet.GetProfitLoss()
		if value > peak {
			peak = value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - value) / peak
		}
		curve = append(curve, EquityPoint{Time: *bet.SettledAt, Day: bet.TradingDay, Value: value, Drawdown: dd})
	}
	return curve
}

// Final returns the closing value
func (e EquityCurve) Final() float64 {
	if len(e) == 0 {
		return 0
	}
	return e[len(e)-1].Value
}

// MaxDrawdown returns the deepest peak-to-trough fall as a fraction of the peak
func (e EquityCurve) MaxDrawdown() float64 {
	maxDD := 0.0
	for _, p := range e {
		if p.Drawdown > maxDD {
			maxDD = p.Drawdown
		}
	}
	return maxDD
}

// DailyReturns calculates close-to-close returns per trading day, the first
// day measured from the opening balance
func (e EquityCurve) DailyReturns() []float64 {
	if len(e) < 2 {
		return []float64{}
	}
	var closes []float64
	var days []string
	for _, p := range e[1:] {
		if n := len(days); n > 0 && days[n-1] == p.Day {
			closes[n-1] = p.Value
			continue
		}
		days = append(days, p.Day)
		closes = append(closes, p.Value)
	}

	returns := make([]float64, 0, len(closes))
	prev := e[0].Value
	for _, c := range closes {
		if prev == 0 {
			returns = append(returns, 0)
		} else {
			returns = append(returns, (c-prev)/prev)
		}
		prev = c
	}
	return returns
}

// TradingDays counts the distinct days with a settled bet
func (e EquityCurve) TradingDays() int {
	n := 0
	last := ""
	for _, p := range e[min(1, len(e)):] {
		if p.Day != last {
			n++
			last = p.Day
		}
	}
	return n
}

// ToCSV exports equity curve to CSV string
func (e EquityCurve) ToCSV() string {
	var buf bytes.Buffer
	buf.WriteString("time,day,value,drawdown\n")
	for _, point := range e {
		buf.WriteString(point.Time.Format(time.RFC3339))
		buf.WriteString(",")
		buf.WriteString(point.Day)
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.Value))
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.Drawdown))
		buf.WriteString("\n")
	}
	return buf.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
