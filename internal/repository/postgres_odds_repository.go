package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
)

var snapshotColumns = []string{"snapshot_id", "race_key", "market", "horse", "odds", "mass", "captured_at"}

// PostgresOddsRepository implements OddsRepository for PostgreSQL
type PostgresOddsRepository struct {
	db *database.DB
}

// NewPostgresOddsRepository creates a new odds repository
func NewPostgresOddsRepository(db *database.DB) OddsRepository {
	return &PostgresOddsRepository{db: db}
}

// InsertSnapshot stores the rows of one snapshot using COPY
func (o *PostgresOddsRepository) InsertSnapshot(ctx context.Context, rows []*models.OddsSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	source := make([][]interface{}, len(rows))
	for i, s := range rows {
		source[i] = []interface{}{s.SnapshotID, s.RaceKey, s.Market, s.Horse, s.Odds, s.Mass, s.CapturedAt}
	}

	count, err := o.db.GetPool().CopyFrom(ctx, pgx.Identifier{"odds_snapshots"}, snapshotColumns, pgx.CopyFromRows(source))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("snapshot %s: %w", rows[0].SnapshotID, models.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert odds snapshot: %w", err)
	}

	if count != int64(len(rows)) {
		return fmt.Errorf("inserted %d rows, expected %d", count, len(rows))
	}
	return nil
}

// GetLatest retrieves the most recent snapshot of a market
func (o *PostgresOddsRepository) GetLatest(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error) {
	query := `
		SELECT snapshot_id, race_key, market, horse, odds, mass, captured_at
		FROM odds_snapshots
		WHERE snapshot_id = (
			SELECT snapshot_id FROM odds_snapshots
			WHERE race_key = $1 AND market = $2
			ORDER BY captured_at DESC
			LIMIT 1
		)
		ORDER BY horse ASC
	`

	snapshots, err := o.query(ctx, query, raceKey, market.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, models.ErrNotFound
	}
	return snapshots, nil
}

// GetHistory retrieves a horse's snapshots in a time range, oldest first
func (o *PostgresOddsRepository) GetHistory(ctx context.Context, raceKey string, horse odds.Token, start, end time.Time) ([]*models.OddsSnapshot, error) {
	start, end = historyBounds(start, end)
	query := `
		SELECT snapshot_id, race_key, market, horse, odds, mass, captured_at
		FROM odds_snapshots
		WHERE race_key = $1 AND horse = $2 AND captured_at >= $3 AND captured_at <= $4
		ORDER BY captured_at ASC, market ASC
	`

	snapshots, err := o.query(ctx, query, raceKey, string(horse), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query odds history: %w", err)
	}
	return snapshots, nil
}

func (o *PostgresOddsRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.OddsSnapshot, error) {
	rows, err := o.db.GetPool().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []*models.OddsSnapshot{}
	for rows.Next() {
		s := &models.OddsSnapshot{}
		err := rows.Scan(&s.SnapshotID, &s.RaceKey, &s.Market, &s.Horse, &s.Odds, &s.Mass, &s.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan odds: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
