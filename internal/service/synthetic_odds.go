// Package service combines the odds bridge, the pool cache and storage into
// synthetic win odds computations.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/cache"
	"github.com/yourusername/trio-odds/internal/logger"
	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/repository"
)

var (
	// ErrInvalidHorse is returned for horse numbers outside 1-99
	ErrInvalidHorse = errors.New("invalid horse number")
	// ErrStorageDisabled is returned by storage operations when no repository is configured
	ErrStorageDisabled = errors.New("snapshot storage is not configured")
	// ErrInvalidRange is returned when a history window ends before it starts
	ErrInvalidRange = errors.New("invalid history range")
	// ErrNoOdds is returned by Snapshot when the pool gives no horse a valid price
	ErrNoOdds = errors.New("pool has no valid odds")
)

// PoolFetcher fetches raw odds pools
type PoolFetcher interface {
	FetchPool(ctx context.Context, raceKey string, market odds.Market) (odds.Pool, error)
}

// Computation is the result of one synthetic odds computation
type Computation struct {
	RaceKey    string         `json:"race_key"`
	Market     odds.Market    `json:"market"`
	Breakdown  odds.Breakdown `json:"breakdown"`
	CacheHit   bool           `json:"cache_hit"`
	ComputedAt time.Time      `json:"computed_at"`
}

// Odds returns the per-horse synthetic odds
func (c *Computation) Odds() odds.Result {
	return c.Breakdown.Odds
}

// Snapshot is one persisted computation. All rows share ID and CapturedAt.
type Snapshot struct {
	ID         uuid.UUID              `json:"snapshot_id"`
	RaceKey    string                 `json:"race_key"`
	Market     odds.Market            `json:"market"`
	CapturedAt time.Time              `json:"captured_at"`
	Odds       odds.Result            `json:"odds"`
	Rows       []*models.OddsSnapshot `json:"-"`
}

// SyntheticOddsService computes, stores and publishes synthetic win odds
type SyntheticOddsService struct {
	fetcher PoolFetcher
	cache   *cache.PoolCache
	odds    repository.OddsRepository
	log     *logger.OddsLogger
	now     func() time.Time

	mu          sync.RWMutex
	nextSubID   uint64
	subscribers map[string]map[uint64]chan *Snapshot
}

// NewSyntheticOddsService creates the service. poolCache and oddsRepo may be nil.
func NewSyntheticOddsService(
	fetcher PoolFetcher,
	poolCache *cache.PoolCache,
	oddsRepo repository.OddsRepository,
	log *logrus.Logger,
) *SyntheticOddsService {
	if log == nil {
		log = logger.Discard()
	}
	return &SyntheticOddsService{
		fetcher:     fetcher,
		cache:       poolCache,
		odds:        oddsRepo,
		log:         logger.NewOddsLogger(log),
		now:         time.Now,
		subscribers: make(map[string]map[uint64]chan *Snapshot),
	}
}

// Compute fetches the pool of a race and returns the synthetic odds of every horse
func (s *SyntheticOddsService) Compute(ctx context.Context, raceKey string, market odds.Market) (*Computation, error) {
	calc, err := s.calculator(raceKey, market)
	if err != nil {
		return nil, err
	}

	pool, hit, err := s.pool(ctx, raceKey, market, false)
	if err != nil {
		return nil, err
	}

	return s.compute(raceKey, calc, pool, hit), nil
}

// ComputeHorse returns the synthetic odds of one horse. ok is false when the
// horse appears in no valid entry.
func (s *SyntheticOddsService) ComputeHorse(ctx context.Context, raceKey string, market odds.Market, horse int) (value float64, ok bool, err error) {
	if horse < 1 || horse > odds.MaxHorseNumber {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidHorse, horse)
	}
	calc, err := s.calculator(raceKey, market)
	if err != nil {
		return 0, false, err
	}

	pool, _, err := s.pool(ctx, raceKey, market, false)
	if err != nil {
		return 0, false, err
	}

	metrics.RecordSynthesis(market.String(), "horse")
	value, ok = calc.SynthesizeHorse(pool, horse)
	return value, ok, nil
}

// ComputePool applies the calculator to a caller-supplied pool
func (s *SyntheticOddsService) ComputePool(market odds.Market, pool odds.Pool) (odds.Breakdown, error) {
	calc, err := odds.NewCalculator(market)
	if err != nil {
		return odds.Breakdown{}, err
	}
	metrics.RecordSynthesis(market.String(), "bulk")
	b := calc.Breakdown(pool)
	recordSkipped(b)
	return b, nil
}

// Snapshot fetches a fresh pool, persists the synthetic odds and publishes them to subscribers
func (s *SyntheticOddsService) Snapshot(ctx context.Context, raceKey string, market odds.Market) (*Snapshot, error) {
	if s.odds == nil {
		return nil, ErrStorageDisabled
	}
	calc, err := s.calculator(raceKey, market)
	if err != nil {
		return nil, err
	}

	pool, _, err := s.pool(ctx, raceKey, market, true)
	if err != nil {
		return nil, err
	}
	comp := s.compute(raceKey, calc, pool, false)
	if len(comp.Breakdown.Odds) == 0 {
		return nil, fmt.Errorf("%w: race %s market %s", ErrNoOdds, raceKey, market)
	}

	snap := &Snapshot{
		ID:         uuid.New(),
		RaceKey:    raceKey,
		Market:     market,
		CapturedAt: s.now().UTC().Truncate(time.Microsecond),
		Odds:       comp.Breakdown.Odds,
	}

	horses := make([]odds.Token, 0, len(snap.Odds))
	for h := range snap.Odds {
		horses = append(horses, h)
	}
	sort.Slice(horses, func(i, j int) bool { return horses[i] < horses[j] })

	snap.Rows = make([]*models.OddsSnapshot, 0, len(horses))
	for _, h := range horses {
		snap.Rows = append(snap.Rows, &models.OddsSnapshot{
			SnapshotID: snap.ID,
			RaceKey:    raceKey,
			Market:     market.String(),
			Horse:      string(h),
			Odds:       snap.Odds[h],
			Mass:       comp.Breakdown.Mass[h],
			CapturedAt: snap.CapturedAt,
		})
	}

	if err := s.odds.InsertSnapshot(ctx, snap.Rows); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	metrics.RecordSnapshotStored()
	s.log.LogSnapshotStored(raceKey, market.String(), snap.ID.String(), len(snap.Rows))

	s.publish(snap)
	return snap, nil
}

// LatestSnapshot returns the most recently stored snapshot rows of a market
func (s *SyntheticOddsService) LatestSnapshot(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error) {
	if s.odds == nil {
		return nil, ErrStorageDisabled
	}
	if _, err := s.calculator(raceKey, market); err != nil {
		return nil, err
	}
	return s.odds.GetLatest(ctx, raceKey, market)
}

// History returns the stored synthetic odds of one horse in [start, end]
func (s *SyntheticOddsService) History(ctx context.Context, raceKey string, horse int, start, end time.Time) ([]*models.OddsSnapshot, error) {
	if s.odds == nil {
		return nil, ErrStorageDisabled
	}
	if err := models.ValidateRaceKey(raceKey); err != nil {
		return nil, err
	}
	token, err := odds.PadHorse(horse)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHorse, horse)
	}
	if !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return s.odds.GetHistory(ctx, raceKey, token, start, end)
}

// Subscribe returns a channel receiving every snapshot stored for raceKey.
// The returned function cancels the subscription and closes the channel.
func (s *SyntheticOddsService) Subscribe(raceKey string) (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 8)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	if s.subscribers[raceKey] == nil {
		s.subscribers[raceKey] = make(map[uint64]chan *Snapshot)
	}
	s.subscribers[raceKey][id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers[raceKey], id)
			if len(s.subscribers[raceKey]) == 0 {
				delete(s.subscribers, raceKey)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publish delivers without blocking; slow subscribers miss snapshots
func (s *SyntheticOddsService) publish(snap *Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers[snap.RaceKey] {
		select {
		case ch <- snap:
		default:
			s.log.WithField("race_key", snap.RaceKey).Warn("Dropped snapshot for slow subscriber")
		}
	}
}

func (s *SyntheticOddsService) calculator(raceKey string, market odds.Market) (odds.Calculator, error) {
	if err := models.ValidateRaceKey(raceKey); err != nil {
		return odds.Calculator{}, err
	}
	return odds.NewCalculator(market)
}

// pool returns the cached pool unless fresh is set, fetching from the bridge otherwise
func (s *SyntheticOddsService) pool(ctx context.Context, raceKey string, market odds.Market, fresh bool) (odds.Pool, bool, error) {
	key := cache.Key{RaceKey: raceKey, Market: market}
	if s.cache != nil && !fresh {
		if pool, ok := s.cache.Get(key); ok {
			s.log.LogBridgeFetch(raceKey, market.String(), len(pool), true, 0)
			return pool, true, nil
		}
	}

	start := time.Now()
	pool, err := s.fetcher.FetchPool(ctx, raceKey, market)
	if err != nil {
		s.log.LogBridgeError(raceKey, market.String(), err)
		return nil, false, err
	}
	s.log.LogBridgeFetch(raceKey, market.String(), len(pool), false, time.Since(start))

	if s.cache != nil {
		s.cache.Set(key, pool)
	}
	return pool, false, nil
}

func (s *SyntheticOddsService) compute(raceKey string, calc odds.Calculator, pool odds.Pool, hit bool) *Computation {
	b := calc.Breakdown(pool)
	market := calc.Market().String()

	metrics.RecordSynthesis(market, "bulk")
	byReason := recordSkipped(b)
	s.log.LogSkippedEntries(raceKey, byReason)
	s.log.LogSynthesis(raceKey, market, len(b.Odds), b.Used, len(b.Skipped))

	return &Computation{
		RaceKey:    raceKey,
		Market:     calc.Market(),
		Breakdown:  b,
		CacheHit:   hit,
		ComputedAt: s.now().UTC(),
	}
}

func recordSkipped(b odds.Breakdown) map[string]int {
	byReason := make(map[string]int)
	for _, e := range b.Skipped {
		byReason[string(e.Reason)]++
	}
	for reason, n := range byReason {
		metrics.RecordSkippedEntries(reason, n)
	}
	return byReason
}
