package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/models"
)

// SQLiteRaceRepository implements RaceRepository for SQLite
type SQLiteRaceRepository struct {
	db *database.SQLiteDB
}

// NewSQLiteRaceRepository creates a new race repository
func NewSQLiteRaceRepository(db *database.SQLiteDB) RaceRepository {
	return &SQLiteRaceRepository{db: db}
}

// Upsert inserts a race or updates the card fields of an existing one
func (r *SQLiteRaceRepository) Upsert(ctx context.Context, race *models.Race) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO races (race_key, held_on, venue, race_number, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (race_key) DO UPDATE
		SET held_on = excluded.held_on, venue = excluded.venue,
		    race_number = excluded.race_number, name = excluded.name, updated_at = excluded.updated_at
		RETURNING created_at, updated_at
	`

	var created, updated int64
	err := r.db.Conn().QueryRowContext(ctx, query,
		race.RaceKey, race.HeldOn.Format(models.DateLayout), race.Venue, race.RaceNumber, race.Name,
		now.UnixNano(), now.UnixNano(),
	).Scan(&created, &updated)
	if err != nil {
		return fmt.Errorf("failed to upsert race: %w", err)
	}

	race.CreatedAt = fromNanos(created)
	race.UpdatedAt = fromNanos(updated)
	return nil
}

// GetByKey retrieves a race by key
func (r *SQLiteRaceRepository) GetByKey(ctx context.Context, raceKey string) (*models.Race, error) {
	query := `
		SELECT race_key, held_on, venue, race_number, name, created_at, updated_at
		FROM races WHERE race_key = ?
	`

	race, err := scanRace(r.db.Conn().QueryRowContext(ctx, query, raceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}

	race.Runners, err = r.GetRunners(ctx, raceKey)
	if err != nil {
		return nil, err
	}
	return race, nil
}

// ListByDate retrieves the races held on a date ordered by venue and race number
func (r *SQLiteRaceRepository) ListByDate(ctx context.Context, date time.Time) ([]*models.Race, error) {
	query := `
		SELECT race_key, held_on, venue, race_number, name, created_at, updated_at
		FROM races
		WHERE held_on = ?
		ORDER BY venue ASC, race_number ASC
	`

	rows, err := r.db.Conn().QueryContext(ctx, query, date.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query races by date: %w", err)
	}
	defer rows.Close()

	races := []*models.Race{}
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf(errScanRace, err)
		}
		races = append(races, race)
	}

	return races, rows.Err()
}

// UpsertRunners inserts or updates the runners of a race in one transaction
func (r *SQLiteRaceRepository) UpsertRunners(ctx context.Context, raceKey string, runners []*models.Runner) error {
	query := `
		INSERT INTO runners (race_key, horse_number, horse_name, jockey, weight)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (race_key, horse_number) DO UPDATE
		SET horse_name = excluded.horse_name, jockey = excluded.jockey, weight = excluded.weight
	`

	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, runner := range runners {
			_, err := tx.ExecContext(ctx, query,
				raceKey, runner.HorseNumber, runner.HorseName, runner.Jockey, weightText(runner.Weight),
			)
			if err != nil {
				if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
					return fmt.Errorf("race %s: %w", raceKey, models.ErrNotFound)
				}
				return fmt.Errorf("failed to upsert runner %d: %w", runner.HorseNumber, err)
			}
		}
		return nil
	})
}

// GetRunners retrieves the runners of a race ordered by horse number
func (r *SQLiteRaceRepository) GetRunners(ctx context.Context, raceKey string) ([]*models.Runner, error) {
	query := `
		SELECT race_key, horse_number, horse_name, jockey, weight
		FROM runners
		WHERE race_key = ?
		ORDER BY horse_number ASC
	`

	rows, err := r.db.Conn().QueryContext(ctx, query, raceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query runners: %w", err)
	}
	defer rows.Close()

	runners := []*models.Runner{}
	for rows.Next() {
		runner := &models.Runner{}
		var weight sql.NullString
		if err := rows.Scan(&runner.RaceKey, &runner.HorseNumber, &runner.HorseName, &runner.Jockey, &weight); err != nil {
			return nil, fmt.Errorf(errScanRunner, err)
		}
		if weight.Valid {
			if runner.Weight, err = parseWeight(&weight.String); err != nil {
				return nil, fmt.Errorf(errScanRunner, err)
			}
		}
		runners = append(runners, runner)
	}

	return runners, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRace(row rowScanner) (*models.Race, error) {
	race := &models.Race{}
	var (
		heldOn           string
		created, updated int64
	)
	if err := row.Scan(&race.RaceKey, &heldOn, &race.Venue, &race.RaceNumber, &race.Name, &created, &updated); err != nil {
		return nil, err
	}

	d, err := time.Parse(models.DateLayout, heldOn)
	if err != nil {
		return nil, fmt.Errorf("invalid held_on %q: %w", heldOn, err)
	}
	race.HeldOn = d
	race.CreatedAt = fromNanos(created)
	race.UpdatedAt = fromNanos(updated)
	return race, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// sqliteCode returns the extended result code of a driver error, or 0
func sqliteCode(err error) int {
	var sErr *sqlite.Error
	if errors.As(err, &sErr) {
		return sErr.Code()
	}
	return 0
}
