package logger

import (
	"github.com/sirupsen/logrus"
)

// CalibrationLogger provides dedicated logging for calibration model fitting.
type CalibrationLogger struct {
	*logrus.Entry
}

// NewCalibrationLogger creates a new calibration logger.
func NewCalibrationLogger(baseLogger *logrus.Logger) *CalibrationLogger {
	return &CalibrationLogger{
		Entry: baseLogger.WithField("component", "calibration"),
	}
}

// LogModelTraining logs a successful fit.
func (cl *CalibrationLogger) LogModelTraining(modelID string, version int, method string, samples int, brier, ece, durationMs float64) {
	cl.WithFields(logrus.Fields{
		"model_id":          modelID,
		"version":           version,
		"method":            method,
		"samples":           samples,
		"brier_score":       brier,
		"ece":               ece,
		"training_duration": durationMs,
	}).Info("Calibration model trained")
}

// LogTrainingRejected logs a fit that left the active model untouched.
func (cl *CalibrationLogger) LogTrainingRejected(method string, err error) {
	cl.WithFields(logrus.Fields{
		"method": method,
	}).WithError(err).Warn("Calibration training rejected")
}

// LogModelActivation logs the switch of the active model.
func (cl *CalibrationLogger) LogModelActivation(modelID string, version int) {
	cl.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  version,
	}).Info("Calibration model activated")
}
