package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-xray-sdk-go/xraylog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/trio-odds/internal/config"
)

func TestInitializeDisabledIsNoop(t *testing.T) {
	require.NoError(t, Initialize(Config{Enabled: false}, nil))
}

type text string

func (t text) String() string { return string(t) }

func TestInitializeEnabled(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	err := Initialize(Config{ServiceName: "trio-odds", Enabled: true, SamplingRate: 0.5, DaemonAddr: "127.0.0.1:2000"}, log)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "AWS X-Ray initialized")
}

func TestLoggerAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.InfoLevel)
	adapter := &xrayLoggerAdapter{logger: log}

	adapter.Log(xraylog.LogLevelDebug, text("hidden"))
	adapter.Log(xraylog.LogLevelWarn, text("segment dropped"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=warning")
	assert.Contains(t, buf.String(), "segment dropped")
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Middleware(Config{Enabled: false})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSamplingRulesIsValidJSON(t *testing.T) {
	var manifest map[string]interface{}
	require.NoError(t, json.Unmarshal(samplingRules(0.25), &manifest))
	assert.Equal(t, 0.25, manifest["default"].(map[string]interface{})["rate"])
}

func TestHelpersOutsideSegment(t *testing.T) {
	ctx, done := StartSubsegment(context.Background(), "bridge")
	done(errors.New("ignored"))
	AddAnnotation(ctx, "race_key", "R1")
	AddError(ctx, errors.New("ignored"))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		App:     config.AppConfig{Name: "trio-odds"},
		Tracing: config.TracingConfig{Enabled: true, DaemonAddr: "127.0.0.1:2000", SamplingRate: 0.1},
	}
	got := FromConfig(cfg)
	assert.Equal(t, Config{ServiceName: "trio-odds", Enabled: true, SamplingRate: 0.1, DaemonAddr: "127.0.0.1:2000"}, got)
}
