package models

import (
	"fmt"
	"regexp"
	"time"
)

var raceKeyPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{1,32}$`)

// ValidateRaceKey checks that a race key is safe to use in URLs and queries
func ValidateRaceKey(key string) error {
	if !raceKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidRaceKey, key)
	}
	return nil
}

// Race represents a race on a meeting card
type Race struct {
	RaceKey    string    `db:"race_key" json:"race_key" validate:"required"`
	HeldOn     time.Time `db:"held_on" json:"held_on" validate:"required"`
	Venue      string    `db:"venue" json:"venue" validate:"required"`
	RaceNumber int       `db:"race_number" json:"race_number" validate:"required,gt=0,lte=12"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
	Runners    []*Runner `db:"-" json:"runners,omitempty"`
}

// RunnerCount returns the number of runners loaded with the race
func (r *Race) RunnerCount() int {
	return len(r.Runners)
}

// Date returns the meeting date formatted as YYYY-MM-DD
func (r *Race) Date() string {
	return r.HeldOn.Format(DateLayout)
}

// DateLayout is the layout of race dates in storage, CSV and query parameters
const DateLayout = "2006-01-02"
