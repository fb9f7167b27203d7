// Package importer loads race cards from CSV files into the race repository.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jszwec/csvutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/repository"
)

// Columns of a race card file, in canonical order. Columns may appear in any order.
var Columns = []string{
	"race_key", "held_on", "venue", "race_number", "race_name",
	"horse_number", "horse_name", "jockey", "weight",
}

var requiredColumns = []string{"race_key", "held_on", "venue", "race_number", "horse_number", "horse_name"}

// RowError reports a rejected line. Line numbers are 1-based and include the header.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Result summarizes an import
type Result struct {
	Races    int
	Runners  int
	Rejected []RowError
}

// Importer parses race card CSV and upserts it
type Importer struct {
	races    repository.RaceRepository
	validate *validator.Validate
	logger   *logrus.Entry
}

// New creates an importer. races may be nil when only Parse is used.
func New(races repository.RaceRepository, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Importer{
		races:    races,
		validate: validator.New(),
		logger:   logger.WithField("component", "importer"),
	}
}

// cardRow is one decoded race card line. Numbers decode through csvutil and the
// remaining fields are checked when the row is turned into a race and a runner.
type cardRow struct {
	RaceKey     string `csv:"race_key"`
	HeldOn      string `csv:"held_on"`
	Venue       string `csv:"venue"`
	RaceNumber  int    `csv:"race_number,omitempty"`
	RaceName    string `csv:"race_name,omitempty"`
	HorseNumber int    `csv:"horse_number,omitempty"`
	HorseName   string `csv:"horse_name"`
	Jockey      string `csv:"jockey,omitempty"`
	Weight      string `csv:"weight,omitempty"`
}

func (r cardRow) blank() bool {
	return r == cardRow{}
}

// Parse reads a race card file. Bad rows are returned as RowErrors and skipped;
// the error is non-nil only when the file itself cannot be read.
func (im *Importer) Parse(r io.Reader) ([]*models.Race, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("race card is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	header, err = normalizeHeader(header)
	if err != nil {
		return nil, nil, err
	}

	dec, err := csvutil.NewDecoder(reader, header...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CSV decoder: %w", err)
	}

	var (
		races    []*models.Race
		byKey    = make(map[string]*models.Race)
		seen     = make(map[string]map[int]bool)
		rejected []RowError
	)

	for {
		var row cardRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErr, ok := rowError(reader, err)
			if !ok {
				return nil, nil, fmt.Errorf("failed to read CSV: %w", err)
			}
			rejected = append(rejected, rowErr)
			continue
		}
		line, _ := reader.FieldPos(0)
		if row.blank() {
			continue
		}

		race, runner, err := im.parseRow(row)
		if err != nil {
			rejected = append(rejected, RowError{Line: line, Err: err})
			continue
		}

		existing, ok := byKey[race.RaceKey]
		if !ok {
			existing = race
			byKey[race.RaceKey] = race
			seen[race.RaceKey] = make(map[int]bool)
			races = append(races, race)
		} else if err := sameCard(existing, race); err != nil {
			rejected = append(rejected, RowError{Line: line, Err: err})
			continue
		}

		if seen[race.RaceKey][runner.HorseNumber] {
			rejected = append(rejected, RowError{Line: line, Err: fmt.Errorf("horse %d listed twice in race %s", runner.HorseNumber, race.RaceKey)})
			continue
		}
		seen[race.RaceKey][runner.HorseNumber] = true
		existing.Runners = append(existing.Runners, runner)
	}

	return races, rejected, nil
}

// rowError turns a per-record decode failure into a RowError. Other errors end the parse.
func rowError(reader *csv.Reader, err error) (RowError, bool) {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return RowError{Line: parseErr.Line, Err: parseErr.Err}, true
	}

	var typeErr *csvutil.UnmarshalTypeError
	if errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &typeErr) {
		line, _ := reader.FieldPos(0)
		return RowError{Line: line, Err: fmt.Errorf("invalid row: %w", err)}, true
	}
	return RowError{}, false
}

// Import parses r and upserts every race with its runners
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	if im.races == nil {
		return nil, fmt.Errorf("race repository is required for import")
	}

	races, rejected, err := im.Parse(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Rejected: rejected}
	for _, race := range races {
		if err := im.races.Upsert(ctx, race); err != nil {
			return result, fmt.Errorf("race %s: %w", race.RaceKey, err)
		}
		if err := im.races.UpsertRunners(ctx, race.RaceKey, race.Runners); err != nil {
			return result, fmt.Errorf("race %s: %w", race.RaceKey, err)
		}
		result.Races++
		result.Runners += len(race.Runners)
	}

	for _, rowErr := range rejected {
		im.logger.WithField("line", rowErr.Line).WithError(rowErr.Err).Warn("Rejected race card row")
	}
	im.logger.WithFields(logrus.Fields{
		"races":    result.Races,
		"runners":  result.Runners,
		"rejected": len(result.Rejected),
	}).Info("Race card imported")

	return result, nil
}

func (im *Importer) parseRow(row cardRow) (*models.Race, *models.Runner, error) {
	race := &models.Race{
		RaceKey:    strings.TrimSpace(row.RaceKey),
		Venue:      strings.TrimSpace(row.Venue),
		Name:       strings.TrimSpace(row.RaceName),
		RaceNumber: row.RaceNumber,
	}
	if err := models.ValidateRaceKey(race.RaceKey); err != nil {
		return nil, nil, err
	}

	heldOn, err := time.Parse(models.DateLayout, strings.TrimSpace(row.HeldOn))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid held_on %q: expected YYYY-MM-DD", row.HeldOn)
	}
	race.HeldOn = heldOn

	runner := &models.Runner{
		RaceKey:     race.RaceKey,
		HorseNumber: row.HorseNumber,
		HorseName:   strings.TrimSpace(row.HorseName),
		Jockey:      strings.TrimSpace(row.Jockey),
	}
	if w := strings.TrimSpace(row.Weight); w != "" {
		d, err := decimal.NewFromString(w)
		if err != nil || d.IsNegative() {
			return nil, nil, fmt.Errorf("invalid weight %q", w)
		}
		d = d.Round(1)
		runner.Weight = &d
	}

	if err := im.validate.Struct(race); err != nil {
		return nil, nil, describe(err)
	}
	if err := im.validate.Struct(runner); err != nil {
		return nil, nil, describe(err)
	}
	return race, runner, nil
}

// normalizeHeader lower-cases column names, strips a UTF-8 BOM and checks required columns
func normalizeHeader(header []string) ([]string, error) {
	out := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		out[i] = name
		if name != "" {
			present[name] = true
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("race card header is missing columns: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// sameCard rejects rows whose race fields disagree with the first row of the race
func sameCard(a, b *models.Race) error {
	if !a.HeldOn.Equal(b.HeldOn) || a.Venue != b.Venue || a.RaceNumber != b.RaceNumber {
		return fmt.Errorf("race %s: card fields differ from an earlier row", b.RaceKey)
	}
	if a.Name == "" {
		a.Name = b.Name
	}
	return nil
}

func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s %v fails %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
