package repository

import (
	"context"
	"time"

	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
)

// RaceRepository defines the interface for race card data access
type RaceRepository interface {
	Upsert(ctx context.Context, race *models.Race) error
	// GetByKey returns the race with its runners loaded
	GetByKey(ctx context.Context, raceKey string) (*models.Race, error)
	ListByDate(ctx context.Context, date time.Time) ([]*models.Race, error)
	UpsertRunners(ctx context.Context, raceKey string, runners []*models.Runner) error
	GetRunners(ctx context.Context, raceKey string) ([]*models.Runner, error)
}

// OddsRepository defines the interface for synthetic odds snapshot access
type OddsRepository interface {
	InsertSnapshot(ctx context.Context, rows []*models.OddsSnapshot) error
	// GetLatest returns every horse row of the most recent snapshot, ordered by horse
	GetLatest(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error)
	// GetHistory returns one horse's rows captured in [start, end]; zero bounds are open
	GetHistory(ctx context.Context, raceKey string, horse odds.Token, start, end time.Time) ([]*models.OddsSnapshot, error)
}
