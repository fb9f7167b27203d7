package models

import (
	"github.com/shopspring/decimal"
)

// Runner represents a horse entered in a race
type Runner struct {
	RaceKey     string           `db:"race_key" json:"race_key" validate:"required"`
	HorseNumber int              `db:"horse_number" json:"horse_number" validate:"required,gt=0,lt=100"`
	HorseName   string           `db:"horse_name" json:"horse_name" validate:"required"`
	Jockey      string           `db:"jockey" json:"jockey"`
	Weight      *decimal.Decimal `db:"weight" json:"weight"`
}

// GetWeight returns the carried weight or 0 if unknown
func (r *Runner) GetWeight() float64 {
	if r.Weight == nil {
		return 0
	}
	return r.Weight.InexactFloat64()
}
