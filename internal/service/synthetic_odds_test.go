package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/trio-odds/internal/bridge"
	"github.com/yourusername/trio-odds/internal/cache"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/repository"
)

// MockPoolFetcher mocks the odds bridge
type MockPoolFetcher struct {
	mock.Mock
}

func (m *MockPoolFetcher) FetchPool(ctx context.Context, raceKey string, market odds.Market) (odds.Pool, error) {
	args := m.Called(ctx, raceKey, market)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(odds.Pool), args.Error(1)
}

// MockOddsRepository mocks snapshot storage
type MockOddsRepository struct {
	mock.Mock
}

func (m *MockOddsRepository) InsertSnapshot(ctx context.Context, rows []*models.OddsSnapshot) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockOddsRepository) GetLatest(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error) {
	args := m.Called(ctx, raceKey, market)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.OddsSnapshot), args.Error(1)
}

func (m *MockOddsRepository) GetHistory(ctx context.Context, raceKey string, horse odds.Token, start, end time.Time) ([]*models.OddsSnapshot, error) {
	args := m.Called(ctx, raceKey, horse, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.OddsSnapshot), args.Error(1)
}

var examplePool = odds.Pool{
	"010203": 10.0,
	"010405": 20.0,
	"020304": 30.0,
	"01020":  5.0,
	"040506": 0.3,
}

func newTestService(fetcher PoolFetcher, repo *MockOddsRepository) *SyntheticOddsService {
	var oddsRepo repository.OddsRepository
	if repo != nil {
		oddsRepo = repo
	}
	return NewSyntheticOddsService(fetcher, cache.NewPoolCache(time.Minute, time.Minute, 10), oddsRepo, nil)
}

func TestComputeUsesCache(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	fetcher.On("FetchPool", mock.Anything, "202405050811", odds.Trio).Return(examplePool, nil).Once()
	svc := newTestService(fetcher, nil)

	first, err := svc.Compute(context.Background(), "202405050811", odds.Trio)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 6.7, first.Odds()["01"])
	assert.Equal(t, 2, len(first.Breakdown.Skipped))
	assert.Equal(t, 3, first.Breakdown.Used)

	second, err := svc.Compute(context.Background(), "202405050811", odds.Trio)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Odds(), second.Odds())

	fetcher.AssertExpectations(t)
}

func TestComputeRejectsBadInput(t *testing.T) {
	svc := newTestService(new(MockPoolFetcher), nil)

	_, err := svc.Compute(context.Background(), "bad key!", odds.Trio)
	assert.ErrorIs(t, err, models.ErrInvalidRaceKey)

	_, err = svc.Compute(context.Background(), "R1", odds.Market("exacta"))
	assert.ErrorIs(t, err, odds.ErrUnsupportedMarket)

	_, _, err = svc.ComputeHorse(context.Background(), "R1", odds.Trio, 100)
	assert.ErrorIs(t, err, ErrInvalidHorse)
}

func TestComputePropagatesBridgeErrors(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	notFound := &bridge.Error{Code: bridge.ErrCodeNotFound, RaceKey: "R1", Status: 404}
	fetcher.On("FetchPool", mock.Anything, "R1", odds.Trio).Return(nil, notFound)
	svc := newTestService(fetcher, nil)

	_, err := svc.Compute(context.Background(), "R1", odds.Trio)
	assert.ErrorIs(t, err, bridge.ErrNotFound)
}

func TestComputeHorse(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	fetcher.On("FetchPool", mock.Anything, "R1", odds.Trio).Return(examplePool, nil).Once()
	svc := newTestService(fetcher, nil)

	v, ok, err := svc.ComputeHorse(context.Background(), "R1", odds.Trio, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6.7, v)

	_, ok, err = svc.ComputeHorse(context.Background(), "R1", odds.Trio, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComputePool(t *testing.T) {
	svc := newTestService(new(MockPoolFetcher), nil)

	b, err := svc.ComputePool(odds.Trio, examplePool)
	require.NoError(t, err)
	assert.Equal(t, odds.Result{"01": 6.7, "02": 7.5, "03": 7.5, "04": 12.0, "05": 20.0}, b.Odds)

	empty, err := svc.ComputePool(odds.Trio, odds.Pool{})
	require.NoError(t, err)
	assert.Empty(t, empty.Odds)
}

func TestSnapshotPersistsAndPublishes(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	fetcher.On("FetchPool", mock.Anything, "R1", odds.Trio).Return(examplePool, nil).Twice()
	repo := new(MockOddsRepository)
	repo.On("InsertSnapshot", mock.Anything, mock.Anything).Return(nil).Once()

	svc := newTestService(fetcher, repo)
	fixed := time.Date(2024, 5, 5, 6, 0, 0, 123456789, time.UTC)
	svc.now = func() time.Time { return fixed }

	updates, cancel := svc.Subscribe("R1")
	defer cancel()

	// a cached pool must not be used for snapshots
	_, err := svc.Compute(context.Background(), "R1", odds.Trio)
	require.NoError(t, err)

	snap, err := svc.Snapshot(context.Background(), "R1", odds.Trio)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 5)
	assert.Equal(t, fixed.Truncate(time.Microsecond), snap.CapturedAt)

	for i, row := range snap.Rows {
		assert.Equal(t, snap.ID, row.SnapshotID)
		assert.Equal(t, snap.CapturedAt, row.CapturedAt)
		assert.Equal(t, "trio", row.Market)
		if i > 0 {
			assert.Less(t, snap.Rows[i-1].Horse, row.Horse)
		}
	}
	assert.Equal(t, "01", snap.Rows[0].Horse)
	assert.InDelta(t, 0.15, snap.Rows[0].Mass, 1e-12)

	select {
	case got := <-updates:
		assert.Equal(t, snap.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("snapshot was not published")
	}

	stored := repo.Calls[0].Arguments.Get(1).([]*models.OddsSnapshot)
	assert.Equal(t, snap.Rows, stored)
	fetcher.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestSnapshotStorageFailure(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	fetcher.On("FetchPool", mock.Anything, "R1", odds.Trio).Return(examplePool, nil)
	repo := new(MockOddsRepository)
	repo.On("InsertSnapshot", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := newTestService(fetcher, repo)
	updates, cancel := svc.Subscribe("R1")
	defer cancel()

	_, err := svc.Snapshot(context.Background(), "R1", odds.Trio)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, updates)
}

func TestSnapshotSkipsEmptyPool(t *testing.T) {
	fetcher := new(MockPoolFetcher)
	fetcher.On("FetchPool", mock.Anything, "R1", odds.Trio).Return(odds.Pool{"040506": 0.3, "0102": 4}, nil)
	repo := new(MockOddsRepository)

	svc := newTestService(fetcher, repo)
	updates, cancel := svc.Subscribe("R1")
	defer cancel()

	_, err := svc.Snapshot(context.Background(), "R1", odds.Trio)
	assert.ErrorIs(t, err, ErrNoOdds)
	assert.Empty(t, updates)
	repo.AssertNotCalled(t, "InsertSnapshot", mock.Anything, mock.Anything)
}

func TestStorageDisabled(t *testing.T) {
	svc := newTestService(new(MockPoolFetcher), nil)

	_, err := svc.Snapshot(context.Background(), "R1", odds.Trio)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = svc.LatestSnapshot(context.Background(), "R1", odds.Trio)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = svc.History(context.Background(), "R1", 1, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestHistory(t *testing.T) {
	repo := new(MockOddsRepository)
	start := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	rows := []*models.OddsSnapshot{{RaceKey: "R1", Horse: "03", Odds: 4.2}}
	repo.On("GetHistory", mock.Anything, "R1", odds.Token("03"), start, end).Return(rows, nil)

	svc := newTestService(new(MockPoolFetcher), repo)
	got, err := svc.History(context.Background(), "R1", 3, start, end)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	_, err = svc.History(context.Background(), "R1", 3, end, start)
	assert.ErrorContains(t, err, "before start")

	_, err = svc.History(context.Background(), "R1", 0, start, end)
	assert.ErrorIs(t, err, ErrInvalidHorse)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	svc := newTestService(new(MockPoolFetcher), nil)
	updates, cancel := svc.Subscribe("R1")
	cancel()
	cancel()

	_, open := <-updates
	assert.False(t, open)
	assert.Empty(t, svc.subscribers)
}
