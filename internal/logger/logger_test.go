package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() (*logrus.Logger, *bytes.Buffer) {
	log := logrus.New()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func parseLogOutput(buf *bytes.Buffer) map[string]interface{} {
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		return nil
	}
	return logEntry
}

func TestNewLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	l := newLogger(buf, "debug", true)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = newLogger(buf, "shouting", false)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func TestAuditLoggerBetDecision(t *testing.T) {
	log, buf := setupTestLogger()
	audit := NewAuditLogger(log)

	audit.LogBetDecision("race/runner/WIN/2024-05-01", "REJECT", "ODDS_DRIFT", 500, 4.0, 2.5)

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "audit", entry["component"])
	assert.Equal(t, "ODDS_DRIFT", entry["reason"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "Bet rejected", entry["msg"])
}

func TestAuditLoggerApprovalIsInfo(t *testing.T) {
	log, buf := setupTestLogger()
	NewAuditLogger(log).LogBetDecision("k", "APPROVE", "", 100, 3.0, 3.0)

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "info", entry["level"])
}

func TestAuditLoggerEmergencyStop(t *testing.T) {
	log, buf := setupTestLogger()
	NewAuditLogger(log).LogEmergencyStop(true, "drawdown", map[string]interface{}{"drawdown": 0.22})

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, true, entry["engaged"])
}

func TestAuditLoggerBetVoided(t *testing.T) {
	log, buf := setupTestLogger()
	NewAuditLogger(log).LogBetVoided("bet-1", "EXECUTOR_FAILED", errors.New("timeout"))

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "timeout", entry["error"])
}

func TestStrategyLoggerSizing(t *testing.T) {
	log, buf := setupTestLogger()
	NewStrategyLogger(log).LogStakeSizing("race", "runner", 0.0667, 0.01667, 1600, 0.05, "kelly")

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "strategy", entry["component"])
	assert.Equal(t, "kelly", entry["limited_by"])
}

func TestCalibrationLoggerTraining(t *testing.T) {
	log, buf := setupTestLogger()
	NewCalibrationLogger(log).LogModelTraining("id", 3, "PLATT", 500, 0.08, 0.02, 12)

	entry := parseLogOutput(buf)
	require.NotNil(t, entry)
	assert.Equal(t, "calibration", entry["component"])
	assert.Equal(t, float64(3), entry["version"])
}
