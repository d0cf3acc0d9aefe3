package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
)

// WalkForwardWindow represents one walk-forward window
type WalkForwardWindow struct {
	WindowID       int       `json:"window_id"`
	TrainStart     time.Time `json:"train_start"`
	TrainEnd       time.Time `json:"train_end"`
	ValStart       time.Time `json:"val_start"`
	ValEnd         time.Time `json:"val_end"`
	TrainRaces     int       `json:"train_races"`
	ValRaces       int       `json:"val_races"`
	Samples        int       `json:"samples"`
	ModelTrainedTo time.Time `json:"model_trained_to,omitempty"`
	TrainKPIs      KPIs      `json:"train_kpis"`
	ValKPIs        KPIs      `json:"val_kpis"`
	Skipped        bool      `json:"skipped"`
	SkipReason     string    `json:"skip_reason,omitempty"`
}

// WalkForwardResult represents walk-forward evaluation result
type WalkForwardResult struct {
	Windows          []WalkForwardWindow `json:"windows"`
	Evaluated        int                 `json:"evaluated"`
	Skipped          int                 `json:"skipped"`
	OutOfSample      KPIs                `json:"out_of_sample"`
	ConsistencyScore float64             `json:"consistency_score"`
	OverfitScore     float64             `json:"overfit_score"`
	Bets             []*models.Bet       `json:"-"`
}

// RunWalkForward fits a calibration on each training window and replays the
// following validation window with it. Only races strictly before the
// validation start reach the fit. Windows advance by StepDays; an anchored
// run keeps every training window starting at the first race day.
func RunWalkForward(ctx context.Context, engine *Engine, races []models.HistoricalRace, cfg config.WalkForwardConfig) (WalkForwardResult, error) {
	start := time.Now()
	if engine == nil {
		return WalkForwardResult{}, fmt.Errorf("engine is required")
	}
	if cfg.TrainingDays <= 0 || cfg.ValidationDays <= 0 || cfg.StepDays <= 0 {
		return WalkForwardResult{}, fmt.Errorf("walk-forward windows must be positive")
	}

	res, err := runWalkForward(ctx, engine, races, cfg)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordBacktestRun("walk_forward", status, time.Since(start).Seconds())
	if err != nil {
		return WalkForwardResult{}, err
	}
	metrics.RecordBacktestROI("walk_forward", res.OutOfSample.ROI)
	return res, nil
}

func runWalkForward(ctx context.Context, engine *Engine, races []models.HistoricalRace, cfg config.WalkForwardConfig) (WalkForwardResult, error) {
	ordered := append([]models.HistoricalRace(nil), races...)
	models.SortHistorical(ordered)
	result := WalkForwardResult{Windows: []WalkForwardWindow{}}
	if len(ordered) == 0 {
		return result, nil
	}

	first := ordered[0].Race.ScheduledStart.UTC()
	origin := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	last := ordered[len(ordered)-1].Race.ScheduledStart

	seen := make(map[string]struct{})
	var oos []*models.Bet
	windowID := 0

	for trainStart := origin; ; trainStart = trainStart.AddDate(0, 0, cfg.StepDays) {
		valStart := trainStart.AddDate(0, 0, cfg.TrainingDays)
		if valStart.After(last) {
			break
		}
		valEnd := valStart.AddDate(0, 0, cfg.ValidationDays)
		trainFrom := trainStart
		if cfg.Anchored {
			trainFrom = origin
		}

		windowID++
		w := WalkForwardWindow{
			WindowID:   windowID,
			TrainStart: trainFrom,
			TrainEnd:   valStart,
			ValStart:   valStart,
			ValEnd:     valEnd,
		}
		train := between(ordered, trainFrom, valStart)
		val := between(ordered, valStart, valEnd)
		w.TrainRaces, w.ValRaces = len(train), len(val)

		bets, err := evaluateWindow(ctx, engine, &w, train, val, cfg.MinSamples)
		if err != nil {
			return result, err
		}
		if w.Skipped {
			result.Skipped++
			engine.entry.WithFields(logrus.Fields{
				"window": w.WindowID,
				"reason": w.SkipReason,
			}).Warn("Skipping walk-forward window")
		} else {
			result.Evaluated++
			for _, bet := range bets {
				if _, dup := seen[bet.ID.String()]; dup {
					continue
				}
				seen[bet.ID.String()] = struct{}{}
				oos = append(oos, bet)
			}
		}
		result.Windows = append(result.Windows, w)
	}

	curve := CurveFromBets(oos, engine.config.Bankroll.InitialBalance)
	result.OutOfSample = CalculateKPIs(oos, curve, engine.config.RiskFreeRate)
	result.ConsistencyScore = CalculateConsistency(result.Windows)
	result.OverfitScore = calculateOverfitScore(result.Windows)
	result.Bets = oos
	return result, nil
}

// evaluateWindow fills in w and returns the validation bets. A window that
// cannot be evaluated is marked skipped rather than failing the run.
func evaluateWindow(ctx context.Context, engine *Engine, w *WalkForwardWindow, train, val []models.HistoricalRace, minSamples int) ([]*models.Bet, error) {
	if len(val) == 0 {
		w.skip("no races in validation window")
		return nil, nil
	}

	model, cal, err := engine.FitModel(ctx, train)
	var short *models.InsufficientDataError
	var diverged *calibration.ConvergenceError
	switch {
	case errors.As(err, &short):
		w.Samples = short.Have
		w.skip(err.Error())
		return nil, nil
	case errors.As(err, &diverged):
		w.skip(err.Error())
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("window %d: %w", w.WindowID, err)
	}
	w.Samples = model.SampleSize
	if model.SampleSize < minSamples {
		w.skip(fmt.Sprintf("%d samples below minimum %d", model.SampleSize, minSamples))
		return nil, nil
	}
	model.Version = w.WindowID
	w.ModelTrainedTo = model.TrainedTo

	trainRes, err := engine.replay(ctx, train, model, cal, false)
	if err != nil {
		return nil, fmt.Errorf("window %d training replay: %w", w.WindowID, err)
	}
	valRes, err := engine.replay(ctx, val, model, cal, true)
	if err != nil {
		return nil, fmt.Errorf("window %d validation replay: %w", w.WindowID, err)
	}
	w.TrainKPIs, w.ValKPIs = trainRes.KPIs, valRes.KPIs
	return valRes.Bets, nil
}

func (w *WalkForwardWindow) skip(reason string) {
	w.Skipped, w.SkipReason = true, reason
}

// between returns the races starting in [from, to)
func between(races []models.HistoricalRace, from, to time.Time) []models.HistoricalRace {
	var out []models.HistoricalRace
	for _, hr := range races {
		at := hr.Race.ScheduledStart
		if !at.Before(from) && at.Before(to) {
			out = append(out, hr)
		}
	}
	return out
}

// CalculateConsistency calculates the share of evaluated windows with a
// positive out-of-sample ROI
func CalculateConsistency(windows []WalkForwardWindow) float64 {
	evaluated, profitable := 0, 0
	for _, w := range windows {
		if w.Skipped {
			continue
		}
		evaluated++
		if w.ValKPIs.ROI > 0 {
			profitable++
		}
	}
	if evaluated == 0 {
		return 0
	}
	return float64(profitable) / float64(evaluated)
}

// calculateOverfitScore compares in-sample with out-of-sample ROI. 0 means
// validation held up as well as training; 1 means all of the edge vanished.
func calculateOverfitScore(windows []WalkForwardWindow) float64 {
	trainROI, valROI := 0.0, 0.0
	for _, w := range windows {
		if w.Skipped {
			continue
		}
		trainROI += w.TrainKPIs.ROI
		valROI += w.ValKPIs.ROI
	}
	if trainROI == 0 {
		return 0
	}
	return (trainROI - valROI) / trainROI
}
