package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := mux.NewRouter()
	s.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthAndLive(t *testing.T) {
	s := NewServer(Config{ServiceName: "trio-odds", Version: "1.2.3"})

	rec, body := serve(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])

	rec, body = serve(t, s, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trio-odds", body["service"])
}

func TestReadyRequiresSetReady(t *testing.T) {
	s := NewServer(Config{ServiceName: "trio-odds"})

	rec, body := serve(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])

	s.SetReady(true)
	rec, _ = serve(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsFailingChecks(t *testing.T) {
	s := NewServer(Config{
		ServiceName: "trio-odds",
		Checks: map[string]Pinger{
			"database": PingFunc(func(context.Context) error { return nil }),
			"bridge":   PingFunc(func(context.Context) error { return errors.New("connection refused") }),
			"skipped":  nil,
		},
	})
	s.SetReady(true)

	rec, body := serve(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "error: connection refused", checks["bridge"])
	assert.NotContains(t, checks, "skipped")
}
