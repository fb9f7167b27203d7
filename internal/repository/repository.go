// Package repository persists race cards and synthetic odds snapshots.
package repository

import (
	"fmt"
	"math"
	"time"

	"github.com/yourusername/trio-odds/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Race RaceRepository
	Odds OddsRepository
}

// NewRepositories creates the repository implementations for an open connection
func NewRepositories(conn database.Conn) (*Repositories, error) {
	switch db := conn.(type) {
	case *database.DB:
		return &Repositories{
			Race: NewPostgresRaceRepository(db),
			Odds: NewPostgresOddsRepository(db),
		}, nil
	case *database.SQLiteDB:
		return &Repositories{
			Race: NewSQLiteRaceRepository(db),
			Odds: NewSQLiteOddsRepository(db),
		}, nil
	case nil:
		return nil, fmt.Errorf("database connection is required")
	default:
		return nil, fmt.Errorf("unsupported database connection %T", conn)
	}
}

var (
	minTime = time.Unix(0, 0).UTC()
	maxTime = time.Unix(0, math.MaxInt64).UTC()
)

// historyBounds replaces zero bounds with the widest range both backends can store
func historyBounds(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() {
		start = minTime
	}
	if end.IsZero() {
		end = maxTime
	}
	return start, end
}
