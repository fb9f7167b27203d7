package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/service"
	"github.com/yourusername/trio-odds/internal/tracing"
)

const maxPoolBytes = 4 << 20

// HorseOddsResponse is the single-horse result. Odds is null when undefined.
type HorseOddsResponse struct {
	Horse odds.Token `json:"horse"`
	Odds  *float64   `json:"odds"`
}

// SnapshotResponse is a stored snapshot grouped back into one result
type SnapshotResponse struct {
	SnapshotID string      `json:"snapshot_id"`
	RaceKey    string      `json:"race_key"`
	Market     string      `json:"market"`
	CapturedAt time.Time   `json:"captured_at"`
	Odds       odds.Result `json:"odds"`
}

// HistoryPoint is one stored value of a horse
type HistoryPoint struct {
	CapturedAt time.Time `json:"captured_at"`
	Market     string    `json:"market"`
	Odds       float64   `json:"odds"`
	Mass       float64   `json:"mass"`
	SnapshotID string    `json:"snapshot_id"`
}

// HistoryResponse lists a horse's stored values oldest first
type HistoryResponse struct {
	RaceKey string         `json:"race_key"`
	Horse   odds.Token     `json:"horse"`
	Points  []HistoryPoint `json:"points"`
}

func (s *Server) market(r *http.Request) (odds.Market, error) {
	name := r.URL.Query().Get("market")
	if name == "" {
		return s.opts.DefaultMarket, nil
	}
	return odds.ParseMarket(name)
}

// parseHorse accepts "1" or "01" style horse numbers
func parseHorse(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > odds.MaxHorseNumber {
		return 0, fmt.Errorf("%w: %q", service.ErrInvalidHorse, raw)
	}
	return n, nil
}

func detail(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("detail"))
	return v
}

func (s *Server) handleSyntheticOdds(w http.ResponseWriter, r *http.Request) {
	raceKey := mux.Vars(r)["raceKey"]
	market, err := s.market(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tracing.AddAnnotation(r.Context(), "race_key", raceKey)

	comp, err := s.odds.Compute(r.Context(), raceKey, market)
	if err != nil {
		tracing.AddError(r.Context(), err)
		s.fail(w, r, err)
		return
	}

	if detail(r) {
		writeJSON(w, http.StatusOK, comp)
		return
	}
	writeJSON(w, http.StatusOK, comp.Odds())
}

func (s *Server) handleHorseOdds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	market, err := s.market(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	horse, err := parseHorse(vars["horse"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	value, ok, err := s.odds.ComputeHorse(r.Context(), vars["raceKey"], market, horse)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, _ := odds.PadHorse(horse)
	resp := HorseOddsResponse{Horse: token}
	if ok {
		resp.Odds = &value
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleComputePool(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var pool odds.Pool
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPoolBytes))
	if err := dec.Decode(&pool); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object of combination odds: "+err.Error())
		return
	}

	b, err := s.odds.ComputePool(market, pool)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if detail(r) {
		writeJSON(w, http.StatusOK, b)
		return
	}
	writeJSON(w, http.StatusOK, b.Odds)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	raceKey := mux.Vars(r)["raceKey"]
	market, err := s.market(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	snap, err := s.odds.Snapshot(r.Context(), raceKey, market)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	raceKey := mux.Vars(r)["raceKey"]
	market, err := s.market(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rows, err := s.odds.LatestSnapshot(r.Context(), raceKey, market)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := SnapshotResponse{RaceKey: raceKey, Market: market.String(), Odds: make(odds.Result, len(rows))}
	for _, row := range rows {
		resp.SnapshotID = row.SnapshotID.String()
		resp.CapturedAt = row.CapturedAt
		resp.Odds[odds.Token(row.Horse)] = row.Odds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	horse, err := parseHorse(vars["horse"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	start, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	end, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	rows, err := s.odds.History(r.Context(), vars["raceKey"], horse, start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, _ := odds.PadHorse(horse)
	resp := HistoryResponse{RaceKey: vars["raceKey"], Horse: token, Points: make([]HistoryPoint, 0, len(rows))}
	for _, row := range rows {
		resp.Points = append(resp.Points, HistoryPoint{
			CapturedAt: row.CapturedAt,
			Market:     row.Market,
			Odds:       row.Odds,
			Mass:       row.Mass,
			SnapshotID: row.SnapshotID.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRaces(w http.ResponseWriter, r *http.Request) {
	if s.races == nil {
		writeError(w, http.StatusServiceUnavailable, "race storage is not configured")
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	races, err := s.races.ListByDate(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  date.Format(models.DateLayout),
		"races": races,
	})
}

func (s *Server) handleGetRace(w http.ResponseWriter, r *http.Request) {
	if s.races == nil {
		writeError(w, http.StatusServiceUnavailable, "race storage is not configured")
		return
	}
	raceKey := mux.Vars(r)["raceKey"]
	if err := models.ValidateRaceKey(raceKey); err != nil {
		s.fail(w, r, err)
		return
	}

	race, err := s.races.GetByKey(r.Context(), raceKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

// parseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates. Empty means unbounded.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(models.DateLayout, raw)
}
