package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
)

// Window is the time range the training samples were drawn from.
type Window struct {
	From time.Time
	To   time.Time
}

// Trainer fits new calibration versions and switches the active one.
// A failed fit never touches the active model.
type Trainer struct {
	repo repository.CalibrationRepository
	opts Options
	log  *logger.CalibrationLogger
	now  func() time.Time
}

// NewTrainer creates a trainer.
func NewTrainer(repo repository.CalibrationRepository, opts Options, log *logrus.Logger) *Trainer {
	return &Trainer{
		repo: repo,
		opts: opts,
		log:  logger.NewCalibrationLogger(log),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Train fits method on samples and stores the result as a new inactive version.
func (t *Trainer) Train(ctx context.Context, method models.CalibrationMethod, samples []Sample, window Window) (*models.CalibrationModel, error) {
	if !window.From.Before(window.To) {
		return nil, fmt.Errorf("training window must start before it ends")
	}
	for _, s := range samples {
		if !s.At.IsZero() && (s.At.Before(window.From) || s.At.After(window.To)) {
			return nil, fmt.Errorf("sample at %s outside training window", s.At.Format(time.RFC3339))
		}
	}

	start := time.Now()
	fit, err := FitSamples(method, samples, t.opts)
	if err != nil {
		t.log.LogTrainingRejected(string(method), err)
		return nil, err
	}

	model := &models.CalibrationModel{
		ID:          uuid.New(),
		Method:      method,
		Params:      fit.Calibrator.Params(),
		TrainedFrom: window.From,
		TrainedTo:   window.To,
		SampleSize:  fit.N,
		BrierScore:  fit.Brier,
		ECE:         fit.ECE,
		CreatedAt:   t.now(),
	}
	if err := t.repo.Create(ctx, model); err != nil {
		return nil, fmt.Errorf("failed to store calibration model: %w", err)
	}

	metrics.RecordCalibrationQuality(string(method), fit.Brier, fit.ECE)
	t.log.LogModelTraining(model.ID.String(), model.Version, string(method), fit.N, fit.Brier, fit.ECE,
		float64(time.Since(start).Microseconds())/1000)
	return model, nil
}

// Activate makes the given version the single active model.
func (t *Trainer) Activate(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	model, err := t.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := FromModel(model); err != nil {
		return nil, err
	}
	if err := t.repo.Activate(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to activate calibration model: %w", err)
	}
	model.Active = true
	t.log.LogModelActivation(model.ID.String(), model.Version)
	return model, nil
}

// TrainAndActivate fits a new version and activates it on success.
func (t *Trainer) TrainAndActivate(ctx context.Context, method models.CalibrationMethod, samples []Sample, window Window) (*models.CalibrationModel, error) {
	model, err := t.Train(ctx, method, samples, window)
	if err != nil {
		return nil, err
	}
	return t.Activate(ctx, model.ID)
}

// Registry resolves calibration models for scoring. Versions are immutable,
// so rebuilt calibrators are cached by model id.
type Registry struct {
	repo  repository.CalibrationRepository
	cache *gocache.Cache
}

// NewRegistry creates a model registry.
func NewRegistry(repo repository.CalibrationRepository) *Registry {
	return &Registry{repo: repo, cache: gocache.New(time.Hour, 10*time.Minute)}
}

// Active returns the active model and its calibrator, or ErrNoActiveModel.
func (r *Registry) Active(ctx context.Context) (*models.CalibrationModel, Calibrator, error) {
	model, err := r.repo.GetActive(ctx)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrNoActiveModel) {
		return nil, nil, models.ErrNoActiveModel
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active calibration model: %w", err)
	}
	cal, err := r.calibrator(model)
	if err != nil {
		return nil, nil, err
	}
	return model, cal, nil
}

// ByID returns a specific model version and its calibrator.
func (r *Registry) ByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, Calibrator, error) {
	model, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	cal, err := r.calibrator(model)
	if err != nil {
		return nil, nil, err
	}
	return model, cal, nil
}

func (r *Registry) calibrator(model *models.CalibrationModel) (Calibrator, error) {
	key := model.ID.String()
	if cached, ok := r.cache.Get(key); ok {
		return cached.(Calibrator), nil
	}
	cal, err := FromModel(model)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, cal, gocache.DefaultExpiration)
	return cal, nil
}
