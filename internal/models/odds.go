package models

import (
	"time"

	"github.com/google/uuid"
)

// OddsSnapshot is one horse's synthetic odds captured at a point in time.
// All rows of a single capture share SnapshotID and CapturedAt.
type OddsSnapshot struct {
	SnapshotID uuid.UUID `db:"snapshot_id" json:"snapshot_id"`
	RaceKey    string    `db:"race_key" json:"race_key"`
	Market     string    `db:"market" json:"market"`
	Horse      string    `db:"horse" json:"horse"`
	Odds       float64   `db:"odds" json:"odds"`
	Mass       float64   `db:"mass" json:"mass"`
	CapturedAt time.Time `db:"captured_at" json:"captured_at"`
}

// GetImpliedProbability returns the implied probability of the synthetic odds
func (o *OddsSnapshot) GetImpliedProbability() float64 {
	if o.Odds <= 0 {
		return 0
	}
	return 1.0 / o.Odds
}
