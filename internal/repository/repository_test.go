package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
)

func setupRepos(t *testing.T) *Repositories {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	repos, err := NewRepositories(db)
	require.NoError(t, err)
	return repos
}

func testRace(key string, number int) *models.Race {
	return &models.Race{
		RaceKey:    key,
		HeldOn:     time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC),
		Venue:      "Tokyo",
		RaceNumber: number,
		Name:       "NHK Mile Cup",
	}
}

func snapshotRows(id uuid.UUID, raceKey string, at time.Time, prices map[string]float64) []*models.OddsSnapshot {
	rows := make([]*models.OddsSnapshot, 0, len(prices))
	for horse, price := range prices {
		rows = append(rows, &models.OddsSnapshot{
			SnapshotID: id,
			RaceKey:    raceKey,
			Market:     odds.Trio.String(),
			Horse:      horse,
			Odds:       price,
			Mass:       1 / price,
			CapturedAt: at,
		})
	}
	return rows
}

func TestNewRepositoriesRequiresConnection(t *testing.T) {
	_, err := NewRepositories(nil)
	assert.ErrorContains(t, err, "database connection is required")
}

func TestRaceUpsertAndGet(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	race := testRace("202405050811", 11)
	require.NoError(t, repos.Race.Upsert(ctx, race))
	assert.False(t, race.CreatedAt.IsZero())

	race.Name = "NHK Mile Cup (G1)"
	require.NoError(t, repos.Race.Upsert(ctx, race))

	got, err := repos.Race.GetByKey(ctx, "202405050811")
	require.NoError(t, err)
	assert.Equal(t, "NHK Mile Cup (G1)", got.Name)
	assert.Equal(t, "2024-05-05", got.Date())
	assert.Empty(t, got.Runners)

	_, err = repos.Race.GetByKey(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListByDate(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Race.Upsert(ctx, testRace("R12", 12)))
	require.NoError(t, repos.Race.Upsert(ctx, testRace("R11", 11)))
	other := testRace("R01", 1)
	other.HeldOn = other.HeldOn.AddDate(0, 0, 1)
	require.NoError(t, repos.Race.Upsert(ctx, other))

	races, err := repos.Race.ListByDate(ctx, time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, "R11", races[0].RaceKey)
	assert.Equal(t, "R12", races[1].RaceKey)

	races, err = repos.Race.ListByDate(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, races)
}

func TestUpsertRunners(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.Race.Upsert(ctx, testRace("R11", 11)))

	w := decimal.RequireFromString("57.0")
	runners := []*models.Runner{
		{HorseNumber: 2, HorseName: "Beta", Jockey: "B. Rider"},
		{HorseNumber: 1, HorseName: "Alpha", Jockey: "A. Rider", Weight: &w},
	}
	require.NoError(t, repos.Race.UpsertRunners(ctx, "R11", runners))

	runners[0].Jockey = "C. Rider"
	require.NoError(t, repos.Race.UpsertRunners(ctx, "R11", runners[:1]))

	got, err := repos.Race.GetRunners(ctx, "R11")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].HorseNumber)
	assert.Equal(t, 57.0, got[0].GetWeight())
	assert.Equal(t, "C. Rider", got[1].Jockey)
	assert.Nil(t, got[1].Weight)

	race, err := repos.Race.GetByKey(ctx, "R11")
	require.NoError(t, err)
	assert.Equal(t, 2, race.RunnerCount())
}

func TestUpsertRunnersUnknownRace(t *testing.T) {
	repos := setupRepos(t)
	err := repos.Race.UpsertRunners(context.Background(), "nope", []*models.Runner{{HorseNumber: 1, HorseName: "Alpha"}})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSnapshotLatest(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 5, 6, 0, 0, 0, time.UTC)

	first := uuid.New()
	second := uuid.New()
	require.NoError(t, repos.Odds.InsertSnapshot(ctx, snapshotRows(first, "R11", t0, map[string]float64{"01": 6.7, "02": 8.0})))
	require.NoError(t, repos.Odds.InsertSnapshot(ctx, snapshotRows(second, "R11", t0.Add(time.Minute), map[string]float64{"01": 5.5, "02": 9.1, "03": 12.0})))

	latest, err := repos.Odds.GetLatest(ctx, "R11", odds.Trio)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, second, latest[0].SnapshotID)
	assert.Equal(t, "01", latest[0].Horse)
	assert.Equal(t, 5.5, latest[0].Odds)
	assert.True(t, latest[0].CapturedAt.Equal(t0.Add(time.Minute)))

	_, err = repos.Odds.GetLatest(ctx, "R11", odds.Quinella)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSnapshotDuplicate(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	id := uuid.New()
	rows := snapshotRows(id, "R11", time.Now().UTC(), map[string]float64{"01": 6.7})

	require.NoError(t, repos.Odds.InsertSnapshot(ctx, rows))
	assert.ErrorIs(t, repos.Odds.InsertSnapshot(ctx, rows), models.ErrDuplicateKey)
	require.NoError(t, repos.Odds.InsertSnapshot(ctx, nil))
}

func TestSnapshotHistory(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 5, 6, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		price := 6.0 + float64(i)
		require.NoError(t, repos.Odds.InsertSnapshot(ctx, snapshotRows(uuid.New(), "R11", at, map[string]float64{"01": price, "02": 3})))
	}

	all, err := repos.Odds.GetHistory(ctx, "R11", "01", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []float64{6, 7, 8}, []float64{all[0].Odds, all[1].Odds, all[2].Odds})

	window, err := repos.Odds.GetHistory(ctx, "R11", "01", t0.Add(time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 7.0, window[0].Odds)

	none, err := repos.Odds.GetHistory(ctx, "R11", "09", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
