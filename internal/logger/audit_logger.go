package logger

import (
	"github.com/sirupsen/logrus"
)

// AuditLogger provides dedicated audit trail logging.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogBetDecision records the outcome of a pre-bet safety check.
func (al *AuditLogger) LogBetDecision(key, decision, reason string, stake, scoredOdds, currentOdds float64) {
	entry := al.WithFields(logrus.Fields{
		"bet_key":      key,
		"decision":     decision,
		"reason":       reason,
		"stake":        stake,
		"scored_odds":  scoredOdds,
		"current_odds": currentOdds,
	})
	if decision == "APPROVE" {
		entry.Info("Bet approved")
		return
	}
	entry.Warn("Bet rejected")
}

// LogBetSettlement records a bet reaching a terminal status.
func (al *AuditLogger) LogBetSettlement(betID, raceID, status string, stake, payout, profitLoss float64) {
	al.WithFields(logrus.Fields{
		"bet_id":      betID,
		"race_id":     raceID,
		"status":      status,
		"stake":       stake,
		"payout":      payout,
		"profit_loss": profitLoss,
	}).Info("Bet settled")
}

// LogBetVoided records a bet voided after the executor failed.
func (al *AuditLogger) LogBetVoided(betID, reason string, err error) {
	al.WithFields(logrus.Fields{
		"bet_id": betID,
		"reason": reason,
	}).WithError(err).Warn("Bet voided")
}

// LogEmergencyStop logs engage and release of the emergency stop.
func (al *AuditLogger) LogEmergencyStop(engaged bool, reason string, snapshot map[string]interface{}) {
	entry := al.WithFields(logrus.Fields{
		"engaged":  engaged,
		"reason":   reason,
		"snapshot": snapshot,
	})
	if engaged {
		entry.Error("Emergency stop engaged")
		return
	}
	entry.Warn("Emergency stop released")
}

// LogFactorTransition logs a factor lifecycle change.
func (al *AuditLogger) LogFactorTransition(factorID, name, from, to, reason, changedBy string) {
	al.WithFields(logrus.Fields{
		"factor_id":   factorID,
		"factor_name": name,
		"from_status": from,
		"to_status":   to,
		"reason":      reason,
		"changed_by":  changedBy,
	}).Info("Factor status changed")
}
