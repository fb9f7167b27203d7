// Package scheduler periodically snapshots the synthetic odds of watched races.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/service"
)

// Snapshotter stores one synthetic odds snapshot
type Snapshotter interface {
	Snapshot(ctx context.Context, raceKey string, market odds.Market) (*service.Snapshot, error)
}

// RunResult summarizes one pass over the watch list
type RunResult struct {
	Stored   int
	Failed   int
	Duration time.Duration
}

// Scheduler manages the periodic snapshot job
type Scheduler struct {
	cron            *cron.Cron
	snapshots       Snapshotter
	logger          *logrus.Entry
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	watch           map[string]struct{}
	market          odds.Market
	gracefulTimeout time.Duration
}

// NewScheduler creates a new scheduler
func NewScheduler(snapshots Snapshotter, market odds.Market, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	entry := logger.WithField("component", "scheduler")

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(entry))),
		),
		snapshots:       snapshots,
		logger:          entry,
		jobIDs:          make([]cron.EntryID, 0),
		watch:           make(map[string]struct{}),
		market:          market,
		gracefulTimeout: 30 * time.Second,
	}
}

// Watch adds race keys to the watch list
func (s *Scheduler) Watch(raceKeys ...string) error {
	for _, key := range raceKeys {
		if err := models.ValidateRaceKey(key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range raceKeys {
		s.watch[key] = struct{}{}
	}
	return nil
}

// Unwatch removes race keys from the watch list
func (s *Scheduler) Unwatch(raceKeys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range raceKeys {
		delete(s.watch, key)
	}
}

// Watched returns the watch list in sorted order
func (s *Scheduler) Watched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.watch))
	for key := range s.watch {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ScheduleSnapshots schedules a snapshot of every watched race each interval
func (s *Scheduler) ScheduleSnapshots(intervalSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}

	if intervalSeconds < 5 {
		intervalSeconds = 5
	}
	timeout := time.Duration(intervalSeconds-1) * time.Second

	jobFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.RunOnce(ctx)
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), jobFunc)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithField("interval_seconds", intervalSeconds).Info("Scheduled snapshot job")
	return nil
}

// RunOnce snapshots every watched race once. Failures are logged and counted.
func (s *Scheduler) RunOnce(ctx context.Context) RunResult {
	start := time.Now()
	var result RunResult

	for _, key := range s.Watched() {
		if ctx.Err() != nil {
			s.logger.WithError(ctx.Err()).Warn("Snapshot pass interrupted")
			break
		}

		snap, err := s.snapshots.Snapshot(ctx, key, s.market)
		if err != nil {
			result.Failed++
			entry := s.logger.WithError(err).WithField("race_key", key)
			if errors.Is(err, context.DeadlineExceeded) {
				entry.Warn("Snapshot timed out")
			} else {
				entry.Error("Snapshot failed")
			}
			continue
		}
		result.Stored++
		s.logger.WithFields(logrus.Fields{
			"race_key": key,
			"horses":   len(snap.Odds),
		}).Debug("Snapshot stored")
	}

	result.Duration = time.Since(start)
	s.logger.WithFields(logrus.Fields{
		"stored":      result.Stored,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Snapshot pass complete")
	return result
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job up to the graceful timeout
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	done := s.cron.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler stop timed out after %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Entries returns information about scheduled entries
func (s *Scheduler) Entries() []cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]cron.Entry, 0, len(s.jobIDs))
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			entries = append(entries, entry)
		}
	}
	return entries
}
