// Package logger provides odds pipeline logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// OddsLogger provides dedicated logging for bridge fetches and synthetic odds computations.
type OddsLogger struct {
	*logrus.Entry
}

// NewOddsLogger creates a new odds logger.
func NewOddsLogger(baseLogger *logrus.Logger) *OddsLogger {
	return &OddsLogger{
		Entry: baseLogger.WithField("component", "odds"),
	}
}

// LogBridgeFetch logs a pool fetched from the odds bridge.
func (ol *OddsLogger) LogBridgeFetch(raceKey, market string, entries int, cacheHit bool, duration time.Duration) {
	ol.WithFields(logrus.Fields{
		"race_key":    raceKey,
		"market":      market,
		"entries":     entries,
		"cache_hit":   cacheHit,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Odds pool fetched")
}

// LogBridgeError logs a failed pool fetch.
func (ol *OddsLogger) LogBridgeError(raceKey, market string, err error) {
	ol.WithFields(logrus.Fields{
		"race_key": raceKey,
		"market":   market,
	}).WithError(err).Warn("Odds bridge fetch failed")
}

// LogSynthesis logs a completed synthetic odds computation.
func (ol *OddsLogger) LogSynthesis(raceKey, market string, horses, used, skipped int) {
	ol.WithFields(logrus.Fields{
		"race_key": raceKey,
		"market":   market,
		"horses":   horses,
		"used":     used,
		"skipped":  skipped,
	}).Info("Synthetic odds computed")
}

// LogSkippedEntries logs pool entries that were excluded, grouped by reason.
func (ol *OddsLogger) LogSkippedEntries(raceKey string, byReason map[string]int) {
	if len(byReason) == 0 {
		return
	}
	fields := logrus.Fields{"race_key": raceKey}
	for reason, n := range byReason {
		fields["skipped_"+reason] = n
	}
	ol.WithFields(fields).Debug("Pool entries skipped")
}

// LogSnapshotStored logs a persisted snapshot.
func (ol *OddsLogger) LogSnapshotStored(raceKey, market, snapshotID string, rows int) {
	ol.WithFields(logrus.Fields{
		"race_key":    raceKey,
		"market":      market,
		"snapshot_id": snapshotID,
		"rows":        rows,
	}).Info("Odds snapshot stored")
}
