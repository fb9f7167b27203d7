// Package api serves synthetic odds over HTTP/JSON and WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/health"
	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/repository"
	"github.com/yourusername/trio-odds/internal/service"
	"github.com/yourusername/trio-odds/internal/tracing"
)

// OddsService is the part of service.SyntheticOddsService used by the handlers
type OddsService interface {
	Compute(ctx context.Context, raceKey string, market odds.Market) (*service.Computation, error)
	ComputeHorse(ctx context.Context, raceKey string, market odds.Market, horse int) (float64, bool, error)
	ComputePool(market odds.Market, pool odds.Pool) (odds.Breakdown, error)
	Snapshot(ctx context.Context, raceKey string, market odds.Market) (*service.Snapshot, error)
	LatestSnapshot(ctx context.Context, raceKey string, market odds.Market) ([]*models.OddsSnapshot, error)
	History(ctx context.Context, raceKey string, horse int, start, end time.Time) ([]*models.OddsSnapshot, error)
	Subscribe(raceKey string) (<-chan *service.Snapshot, func())
}

// Options configures the API server
type Options struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	DefaultMarket  odds.Market
	MetricsEnabled bool
	MetricsPath    string
	Tracing        tracing.Config
	Logger         *logrus.Logger
}

// Server is the HTTP API
type Server struct {
	opts       Options
	odds       OddsService
	races      repository.RaceRepository
	health     *health.Server
	logger     *logrus.Entry
	router     *mux.Router
	upgrader   websocket.Upgrader
	feed       *feed
	httpServer *http.Server
}

// NewServer builds the router. races and healthSrv may be nil.
func NewServer(opts Options, oddsSvc OddsService, races repository.RaceRepository, healthSrv *health.Server) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.PanicLevel)
	}
	if !opts.DefaultMarket.Valid() {
		opts.DefaultMarket = odds.Trio
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		opts:   opts,
		odds:   oddsSvc,
		races:  races,
		health: healthSrv,
		logger: opts.Logger.WithField("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(opts.AllowedOrigins),
		},
		feed: newFeed(),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.recoverer, s.instrument)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(tracing.Middleware(s.opts.Tracing))
	api.HandleFunc("/synthetic-odds", s.handleComputePool).Methods(http.MethodPost)
	api.HandleFunc("/races", s.handleListRaces).Methods(http.MethodGet)
	api.HandleFunc("/races/{raceKey}", s.handleGetRace).Methods(http.MethodGet)
	api.HandleFunc("/races/{raceKey}/synthetic-odds", s.handleSyntheticOdds).Methods(http.MethodGet)
	api.HandleFunc("/races/{raceKey}/synthetic-odds/{horse}", s.handleHorseOdds).Methods(http.MethodGet)
	api.HandleFunc("/races/{raceKey}/snapshots", s.handleCreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/races/{raceKey}/snapshots", s.handleLatestSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/races/{raceKey}/history/{horse}", s.handleHistory).Methods(http.MethodGet)

	router.HandleFunc("/ws/races/{raceKey}", s.handleWebSocket).Methods(http.MethodGet)

	if s.health != nil {
		s.health.Register(router)
	}
	if s.opts.MetricsEnabled {
		router.Handle(s.opts.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}

	// Subrouters do not inherit these handlers
	for _, r := range []*mux.Router{router, api} {
		r.NotFoundHandler = http.HandlerFunc(notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	return router
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

// Start listens until Shutdown is called. It returns nil at once when Shutdown ran first.
func (s *Server) Start() error {
	s.logger.WithField("port", s.opts.Port).Info("API server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes live feeds and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.closeAll()
	s.logger.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
