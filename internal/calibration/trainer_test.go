package calibration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/models"
)

type fakeCalibrationRepo struct {
	mu     sync.Mutex
	models []*models.CalibrationModel
}

func (f *fakeCalibrationRepo) Create(_ context.Context, m *models.CalibrationModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Version = len(f.models) + 1
	m.Active = false
	cp := *m
	f.models = append(f.models, &cp)
	return nil
}

func (f *fakeCalibrationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.models {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeCalibrationRepo) GetByVersion(_ context.Context, v int) (*models.CalibrationModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v < 1 || v > len(f.models) {
		return nil, models.ErrNotFound
	}
	cp := *f.models[v-1]
	return &cp, nil
}

func (f *fakeCalibrationRepo) GetActive(_ context.Context) (*models.CalibrationModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.models {
		if m.Active {
			cp := *m
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeCalibrationRepo) List(_ context.Context) ([]*models.CalibrationModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.CalibrationModel(nil), f.models...), nil
}

func (f *fakeCalibrationRepo) Activate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, m := range f.models {
		m.Active = m.ID == id
		found = found || m.Active
	}
	if !found {
		return models.ErrNotFound
	}
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func window() Window {
	return Window{From: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTrainerVersionsAndSingleActive(t *testing.T) {
	repo := &fakeCalibrationRepo{}
	trainer := NewTrainer(repo, Options{MinSamples: 100, MaxIterations: 100, Bins: 10}, quietLogger())
	ctx := context.Background()

	first, err := trainer.TrainAndActivate(ctx, models.CalibrationPlatt, syntheticSamples(500, 10), window())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := trainer.TrainAndActivate(ctx, models.CalibrationIsotonic, syntheticSamples(500, 11), window())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	active := 0
	for _, m := range all {
		if m.Active {
			active++
			assert.Equal(t, second.ID, m.ID)
		}
	}
	assert.Equal(t, 1, active)

	old, err := repo.GetByVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CalibrationPlatt, old.Method, "older versions stay retrievable")
}

func TestTrainerFailureKeepsActiveModel(t *testing.T) {
	repo := &fakeCalibrationRepo{}
	trainer := NewTrainer(repo, Options{MinSamples: 100, MaxIterations: 100, Bins: 10}, quietLogger())
	ctx := context.Background()

	good, err := trainer.TrainAndActivate(ctx, models.CalibrationPlatt, syntheticSamples(500, 12), window())
	require.NoError(t, err)

	_, err = trainer.TrainAndActivate(ctx, models.CalibrationPlatt, syntheticSamples(10, 13), window())
	var ide *models.InsufficientDataError
	require.True(t, errors.As(err, &ide))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ID, active.ID)
}

func TestTrainerRejectsSamplesOutsideWindow(t *testing.T) {
	trainer := NewTrainer(&fakeCalibrationRepo{}, DefaultOptions(), quietLogger())
	samples := syntheticSamples(300, 14)
	samples[0].At = window().To.Add(time.Hour)

	_, err := trainer.Train(context.Background(), models.CalibrationPlatt, samples, window())
	assert.Error(t, err)
}

func TestRegistryActive(t *testing.T) {
	repo := &fakeCalibrationRepo{}
	reg := NewRegistry(repo)
	ctx := context.Background()

	_, _, err := reg.Active(ctx)
	assert.True(t, errors.Is(err, models.ErrNoActiveModel))

	trainer := NewTrainer(repo, DefaultOptions(), quietLogger())
	model, err := trainer.TrainAndActivate(ctx, models.CalibrationPlatt, syntheticSamples(500, 15), window())
	require.NoError(t, err)

	got, cal, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID, got.ID)
	assert.Less(t, cal.Predict(-1), cal.Predict(1))

	_, cached, err := reg.ByID(ctx, model.ID)
	require.NoError(t, err)
	assert.Same(t, cal, cached)
}
