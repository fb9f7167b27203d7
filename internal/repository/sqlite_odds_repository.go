package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
)

// SQLiteOddsRepository implements OddsRepository for SQLite
type SQLiteOddsRepository struct {
	db *database.SQLiteDB
}

// NewSQLiteOddsRepository creates a new odds repository
func NewSQLiteOddsRepository(db *database.SQLiteDB) OddsRepository {
	return &SQLiteOddsRepository{db: db}
}

// InsertSnapshot stores the rows of one snapshot in a single transaction
func (o *SQLiteOddsRepository) InsertSnapshot(ctx context.Context, rows []*models.OddsSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO odds_snapshots (snapshot_id, race_key, market, horse, odds, mass, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range rows {
			_, err := stmt.ExecContext(ctx,
				s.SnapshotID.String(), s.RaceKey, s.Market, s.Horse, s.Odds, s.Mass, s.CapturedAt.UnixNano(),
			)
			if err != nil {
				if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
					return fmt.Errorf("snapshot %s: %w", s.SnapshotID, models.ErrDuplicateKey)
				}
				return fmt.Errorf("failed to insert odds snapshot: %w", err)
			}
		}
		return nil
	})
}

// GetLatest retrieves the most recent snapshot of a market
func (o *SQLiteOddsRepository) GetLatest(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error) {
	query := `
		SELECT snapshot_id, race_key, market, horse, odds, mass, captured_at
		FROM odds_snapshots
		WHERE snapshot_id = (
			SELECT snapshot_id FROM odds_snapshots
			WHERE race_key = ? AND market = ?
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
func (o *SQLiteOddsRepository) GetHistory(ctx context.Context, raceKey string, horse odds.Token, start, end time.Time) ([]*models.OddsSnapshot, error) {
	start, end = historyBounds(start, end)
	query := `
		SELECT snapshot_id, race_key, market, horse, odds, mass, captured_at
		FROM odds_snapshots
		WHERE race_key = ? AND horse = ? AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC, market ASC
	`

	snapshots, err := o.query(ctx, query, raceKey, string(horse), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query odds history: %w", err)
	}
	return snapshots, nil
}

func (o *SQLiteOddsRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.OddsSnapshot, error) {
	rows, err := o.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []*models.OddsSnapshot{}
	for rows.Next() {
		s := &models.OddsSnapshot{}
		var (
			id       string
			captured int64
		)
		if err := rows.Scan(&id, &s.RaceKey, &s.Market, &s.Horse, &s.Odds, &s.Mass, &captured); err != nil {
			return nil, fmt.Errorf("failed to scan odds: %w", err)
		}
		if s.SnapshotID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to scan odds: %w", err)
		}
		s.CapturedAt = fromNanos(captured)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
