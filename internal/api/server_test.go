package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/trio-odds/internal/bridge"
	"github.com/yourusername/trio-odds/internal/cache"
	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/health"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/repository"
	"github.com/yourusername/trio-odds/internal/service"
)

var samplePool = odds.Pool{
	"010203": 10,
	"010405": 20,
	"020304": 30,
	"01020":  5,
	"040506": 0.3,
}

type stubFetcher struct {
	mu    sync.Mutex
	pools map[string]odds.Pool
	err   error
}

func (f *stubFetcher) FetchPool(ctx context.Context, raceKey string, market odds.Market) (odds.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pool, ok := f.pools[raceKey]
	if !ok {
		return nil, &bridge.Error{Code: bridge.ErrCodeNotFound, RaceKey: raceKey, Status: http.StatusNotFound}
	}
	return pool, nil
}

type testEnv struct {
	server  *Server
	fetcher *stubFetcher
	repos   *repository.Repositories
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	repos, err := repository.NewRepositories(db)
	require.NoError(t, err)

	fetcher := &stubFetcher{pools: map[string]odds.Pool{"R1": samplePool}}
	svc := service.NewSyntheticOddsService(fetcher, cache.NewPoolCache(time.Minute, time.Minute, 10), repos.Odds, nil)

	hs := health.NewServer(health.Config{ServiceName: "trio-odds", Version: "test"})
	hs.SetReady(true)

	srv := NewServer(Options{DefaultMarket: odds.Trio, MetricsEnabled: true}, svc, repos.Race, hs)
	return &testEnv{server: srv, fetcher: fetcher, repos: repos}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestGetSyntheticOdds(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"01": 6.7, "02": 7.5, "03": 7.5, "04": 12.0, "05": 20.0,
	}, body)
}

func TestGetSyntheticOddsDetail(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds?detail=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "R1", body["race_key"])
	assert.Equal(t, "trio", body["market"])
	assert.Equal(t, false, body["cache_hit"])

	breakdown := body["breakdown"].(map[string]interface{})
	assert.Equal(t, 3.0, breakdown["used"])
	assert.Len(t, breakdown["skipped"], 2)

	_, body = env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds?detail=true", nil)
	assert.Equal(t, true, body["cache_hit"])
}

func TestGetSyntheticOddsErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown race", "/api/races/R9/synthetic-odds", http.StatusNotFound},
		{"bad race key", "/api/races/bad%20key/synthetic-odds", http.StatusBadRequest},
		{"bad market", "/api/races/R1/synthetic-odds?market=exacta", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBridgeFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = &bridge.Error{Code: bridge.ErrCodeServerError, RaceKey: "R1", Status: http.StatusServiceUnavailable}

	rec, _ := env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	env.fetcher.err = errors.New("boom")
	rec, body := env.do(t, http.MethodGet, "/api/races/R2/synthetic-odds", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
}

func TestGetHorseOdds(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "01", body["horse"])
	assert.Equal(t, 6.7, body["odds"])

	rec, body = env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds/06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "06", body["horse"])
	assert.Nil(t, body["odds"])

	for _, horse := range []string{"0", "100", "x"} {
		rec, _ = env.do(t, http.MethodGet, "/api/races/R1/synthetic-odds/"+horse, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, horse)
	}
}

func TestComputePool(t *testing.T) {
	env := newTestEnv(t)

	payload, err := json.Marshal(map[string]float64{"0102": 4, "0103": 8})
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/api/synthetic-odds?market=quinella", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"01": 2.7, "02": 4.0, "03": 8.0}, body)

	rec, _ = env.do(t, http.MethodPost, "/api/synthetic-odds", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/synthetic-odds", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSnapshotLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/races/R1/snapshots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, created := env.do(t, http.MethodPost, "/api/races/R1/snapshots", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, created["snapshot_id"])

	rec, latest := env.do(t, http.MethodGet, "/api/races/R1/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created["snapshot_id"], latest["snapshot_id"])
	assert.Equal(t, created["odds"], latest["odds"])

	rec, history := env.do(t, http.MethodGet, "/api/races/R1/history/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "04", history["horse"])
	points := history["points"].([]interface{})
	require.Len(t, points, 1)
	assert.Equal(t, 12.0, points[0].(map[string]interface{})["odds"])
}

func TestSnapshotOfEmptyPool(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.pools["R2"] = odds.Pool{"010203": 0.3}

	rec, body := env.do(t, http.MethodPost, "/api/races/R2/snapshots", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body["error"], "no valid odds")

	rec, _ = env.do(t, http.MethodGet, "/api/races/R2/snapshots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryRange(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/races/R1/history/1?from=2024-05-06&to=2024-05-05", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/races/R1/history/1?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/races/R1/history/1?from=2024-05-05T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["points"])
}

func TestRaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	heldOn := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	err := env.repos.Race.Upsert(ctx, &models.Race{RaceKey: "R1", HeldOn: heldOn, Venue: "Tokyo", RaceNumber: 11})
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodGet, "/api/races?date=2024-05-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-05-05", body["date"])
	assert.Len(t, body["races"], 1)

	rec, body = env.do(t, http.MethodGet, "/api/races/R1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tokyo", body["venue"])

	rec, _ = env.do(t, http.MethodGet, "/api/races/R404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/races?date=05/05/2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRacesWithoutStorage(t *testing.T) {
	svc := service.NewSyntheticOddsService(&stubFetcher{}, nil, nil, nil)
	srv := NewServer(Options{}, svc, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/races", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/races/R1/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", body["error"])
}

func TestAPISubrouterErrorHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodDelete, "/api/races/R1/snapshots", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", body["error"])

	rec, body = env.do(t, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", body["error"])
}

func TestStartReturnsAfterShutdown(t *testing.T) {
	tests := []struct {
		name          string
		shutdownFirst bool
	}{
		{"shutdown before start", true},
		{"shutdown racing start", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := service.NewSyntheticOddsService(&stubFetcher{}, nil, nil, nil)
			srv := NewServer(Options{Port: 0}, svc, nil, nil)

			if tt.shutdownFirst {
				require.NoError(t, srv.Shutdown(context.Background()))
			}
			done := make(chan error, 1)
			go func() { done <- srv.Start() }()
			if !tt.shutdownFirst {
				require.NoError(t, srv.Shutdown(context.Background()))
			}

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Start kept listening after Shutdown")
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://odds.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "http://api.local/ws/races/R1", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://ODDS.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.local")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func dialFeed(t *testing.T, ts *httptest.Server, raceKey string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/races/" + raceKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts, "R1")

	resp, err := http.Post(ts.URL+"/api/races/R1/snapshots", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			RaceKey string             `json:"race_key"`
			Odds    map[string]float64 `json:"odds"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "R1", msg.Data.RaceKey)
	assert.Equal(t, 6.7, msg.Data.Odds["01"])
}

func TestWebSocketRejectsBadRaceKey(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/races/bad%20key"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShutdownClosesFeeds(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts, "R1")
	require.Eventually(t, func() bool { return env.server.feed.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.server.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), fmt.Sprint(err))
	assert.Eventually(t, func() bool { return env.server.feed.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
