package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/models"
)

const (
	errScanRace   = "failed to scan race: %w"
	errScanRunner = "failed to scan runner: %w"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRaceRepository implements RaceRepository for PostgreSQL
type PostgresRaceRepository struct {
	db *database.DB
}

// NewPostgresRaceRepository creates a new race repository
func NewPostgresRaceRepository(db *database.DB) RaceRepository {
	return &PostgresRaceRepository{db: db}
}

// Upsert inserts a race or updates the card fields of an existing one
func (r *PostgresRaceRepository) Upsert(ctx context.Context, race *models.Race) error {
	query := `
		INSERT INTO races (race_key, held_on, venue, race_number, name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (race_key) DO UPDATE
		SET held_on = EXCLUDED.held_on, venue = EXCLUDED.venue,
		    race_number = EXCLUDED.race_number, name = EXCLUDED.name, updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.GetPool().QueryRow(ctx, query,
		race.RaceKey, race.HeldOn, race.Venue, race.RaceNumber, race.Name,
	).Scan(&race.CreatedAt, &race.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert race: %w", err)
	}
	return nil
}

// GetByKey retrieves a race by key
func (r *PostgresRaceRepository) GetByKey(ctx context.Context, raceKey string) (*models.Race, error) {
	query := `
		SELECT race_key, held_on, venue, race_number, name, created_at, updated_at
		FROM races WHERE race_key = $1
	`

	race := &models.Race{}
	err := r.db.GetPool().QueryRow(ctx, query, raceKey).Scan(
		&race.RaceKey, &race.HeldOn, &race.Venue, &race.RaceNumber, &race.Name,
		&race.CreatedAt, &race.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresRaceRepository) ListByDate(ctx context.Context, date time.Time) ([]*models.Race, error) {
	query := `
		SELECT race_key, held_on, venue, race_number, name, created_at, updated_at
		FROM races
		WHERE held_on = $1
		ORDER BY venue ASC, race_number ASC
	`

	rows, err := r.db.GetPool().Query(ctx, query, date.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query races by date: %w", err)
	}
	defer rows.Close()

	races := []*models.Race{}
	for rows.Next() {
		race := &models.Race{}
		err := rows.Scan(
			&race.RaceKey, &race.HeldOn, &race.Venue, &race.RaceNumber, &race.Name,
			&race.CreatedAt, &race.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf(errScanRace, err)
		}
		races = append(races, race)
	}

	return races, rows.Err()
}

// UpsertRunners inserts or updates the runners of a race in one transaction
func (r *PostgresRaceRepository) UpsertRunners(ctx context.Context, raceKey string, runners []*models.Runner) error {
	query := `
		INSERT INTO runners (race_key, horse_number, horse_name, jockey, weight)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (race_key, horse_number) DO UPDATE
		SET horse_name = EXCLUDED.horse_name, jockey = EXCLUDED.jockey, weight = EXCLUDED.weight
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, runner := range runners {
			_, err := tx.Exec(ctx, query,
				raceKey, runner.HorseNumber, runner.HorseName, runner.Jockey, weightText(runner.Weight),
			)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
					return fmt.Errorf("race %s: %w", raceKey, models.ErrNotFound)
				}
				return fmt.Errorf("failed to upsert runner %d: %w", runner.HorseNumber, err)
			}
		}
		return nil
	})
}

// GetRunners retrieves the runners of a race ordered by horse number
func (r *PostgresRaceRepository) GetRunners(ctx context.Context, raceKey string) ([]*models.Runner, error) {
	query := `
		SELECT race_key, horse_number, horse_name, jockey, weight::text
		FROM runners
		WHERE race_key = $1
		ORDER BY horse_number ASC
	`

	rows, err := r.db.GetPool().Query(ctx, query, raceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query runners: %w", err)
	}
	defer rows.Close()

	runners := []*models.Runner{}
	for rows.Next() {
		runner := &models.Runner{}
		var weight *string
		if err := rows.Scan(&runner.RaceKey, &runner.HorseNumber, &runner.HorseName, &runner.Jockey, &weight); err != nil {
			return nil, fmt.Errorf(errScanRunner, err)
		}
		if runner.Weight, err = parseWeight(weight); err != nil {
			return nil, fmt.Errorf(errScanRunner, err)
		}
		runners = append(runners, runner)
	}

	return runners, rows.Err()
}

func weightText(w *decimal.Decimal) *string {
	if w == nil {
		return nil
	}
	s := w.String()
	return &s
}

func parseWeight(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
