package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"

	"github.com/yourusername/furlong/internal/strategy"
)

// Report is everything a backtest command produces. It holds no wall-clock
// data, so re-running the same inputs writes identical bytes.
type Report struct {
	Method       string               `json:"method"`
	Strategy     strategy.Description `json:"strategy"`
	ModelVersion int                  `json:"model_version,omitempty"`
	Replay       *Result              `json:"replay,omitempty"`
	WalkForward  *WalkForwardResult   `json:"walk_forward,omitempty"`
	MonteCarlo   *MonteCarloResult    `json:"monte_carlo,omitempty"`
	Assessment   Assessment           `json:"assessment"`
}

// Assess fills in the assessment from the sections present
func (r *Report) Assess() {
	var k KPIs
	switch {
	case r.Replay != nil:
		k = r.Replay.KPIs
	case r.WalkForward != nil:
		k = r.WalkForward.OutOfSample
	}
	r.Assessment = Assess(k, r.WalkForward, r.MonteCarlo)
}

// WriteConsoleReport renders the report as tables
func WriteConsoleReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "Backtest Report (%s, strategy %s)\n", r.Method, r.Strategy.Name)

	if r.Replay != nil {
		fmt.Fprintf(w, "\nReplay: %d races, %d unscored\n", r.Replay.Races, r.Replay.Unscored)
		writeKPIs(w, r.Replay.KPIs)
		if r.Replay.HaltedAt != nil {
			fmt.Fprintf(w, "Emergency stop at %s: %s\n", r.Replay.HaltedAt.Format("2006-01-02 15:04"), r.Replay.HaltReason)
		}
	}

	if wf := r.WalkForward; wf != nil {
		fmt.Fprintf(w, "\nWalk-forward: %d windows evaluated, %d skipped\n", wf.Evaluated, wf.Skipped)
		table := tablewriter.NewWriter(w)
		table.Header("#", "Train", "Validation", "Samples", "Bets", "Train ROI", "Val ROI", "Note")
		for _, win := range wf.Windows {
			table.Append(
				fmt.Sprintf("%d", win.WindowID),
				win.TrainStart.Format("2006-01-02")+" .. "+win.TrainEnd.Format("2006-01-02"),
				win.ValStart.Format("2006-01-02")+" .. "+win.ValEnd.Format("2006-01-02"),
				fmt.Sprintf("%d", win.Samples),
				fmt.Sprintf("%d", win.ValKPIs.TotalBets),
				pct(win.TrainKPIs.ROI),
				pct(win.ValKPIs.ROI),
				win.SkipReason,
			)
		}
		table.Render()
		fmt.Fprintf(w, "Out of sample (consistency %s, overfit %.2f)\n", pct(wf.ConsistencyScore), wf.OverfitScore)
		writeKPIs(w, wf.OutOfSample)
	}

	if mc := r.MonteCarlo; mc != nil {
		fmt.Fprintf(w, "\nMonte Carlo: %d iterations over %d bets (seed %d)\n", mc.Iterations, mc.Bets, mc.Seed)
		table := tablewriter.NewWriter(w)
		table.Header("Mean return", "Std", "VaR 95", "VaR 99", "P(profit)", "P(ruin)")
		table.Append(pct(mc.MeanReturn), pct(mc.StdReturn), pct(mc.VaR95), pct(mc.VaR99), pct(mc.ProbabilityOfProfit), pct(mc.ProbabilityOfRuin))
		table.Render()
	}

	fmt.Fprintf(w, "\nComposite score %.2f: %s\n", r.Assessment.CompositeScore, r.Assessment.Recommendation)
}

func writeKPIs(w io.Writer, k KPIs) {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Bets", fmt.Sprintf("%d (won %d, lost %d, void %d)", k.TotalBets, k.WinningBets, k.LosingBets, k.VoidBets)},
		{"Staked", fmt.Sprintf("%.2f", k.TotalStaked)},
		{"Profit/loss", fmt.Sprintf("%.2f", k.ProfitLoss)},
		{"ROI", pct(k.ROI)},
		{"Hit rate", pct(k.HitRate)},
		{"Max drawdown", pct(k.MaxDrawdown)},
		{"Expected ROI", pct(k.ExpectedROI)},
		{"EV gap", pct(k.EVRealizedGap)},
		{"Profit factor", fmt.Sprintf("%.2f", k.ProfitFactor)},
		{"Expectancy", fmt.Sprintf("%.2f", k.Expectancy)},
		{"Max losing run", fmt.Sprintf("%d", k.MaxConsecutiveLosses)},
		{"Sharpe", fmt.Sprintf("%.2f", k.SharpeRatio)},
		{"Final bankroll", fmt.Sprintf("%.2f", k.FinalBankroll)},
	}
	for _, row := range rows {
		table.Append(row[0], row[1])
	}
	table.Render()
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// MarshalReport encodes the report as indented JSON
func MarshalReport(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteJSONReport writes the report to path, creating parent directories
func WriteJSONReport(r Report, path string) error {
	data, err := MarshalReport(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
