package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/database"
	"github.com/cartpulse/cartpulse/internal/dedup"
	"github.com/cartpulse/cartpulse/internal/geo"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/middleware"
	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/cartpulse/cartpulse/internal/publish"
	"github.com/cartpulse/cartpulse/internal/reporting"
	"github.com/cartpulse/cartpulse/internal/storage"
	"github.com/cartpulse/cartpulse/internal/tracker"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Catalog    reporting.ProductCatalog
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers over the tracking and reporting services.
type Server struct {
	mux              *http.ServeMux
	trackerService   *tracker.Service
	reportingService *reporting.Service
	store            storage.Store
	deps             *Dependencies
	logger           *zap.Logger
	config           *config.Config
	metrics          *metrics.Metrics
}

// NewServer constructs the server with all routes registered.
// Missing backing services degrade to in-process fallbacks: no Postgres
// means the in-memory store, no Redis means in-memory dedup markers and
// no live channel.
func NewServer(deps *Dependencies) *Server {
	var store storage.Store
	if deps.DB != nil {
		store = storage.NewPostgresStore(deps.DB.Pool)
	} else {
		deps.Logger.Warn("no database configured, using in-memory event store")
		store = storage.NewMemoryStore()
	}

	var markers dedup.MarkerStore
	if deps.Redis != nil {
		markers = dedup.NewRedisMarkerStore(deps.Redis.Client, "cartpulse:dedup")
	} else {
		markers = dedup.NewMemoryMarkerStore()
	}

	var resolver geo.Resolver = geo.Noop{}
	if deps.Config.Geo.Enabled {
		maxmind, err := geo.NewMaxMindResolver(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to open GeoIP database, country enrichment disabled", zap.Error(err))
		} else {
			resolver = geo.NewChain(deps.Logger, maxmind)
		}
	}

	var publisher publish.Publisher = publish.Nop{}
	if deps.Redis != nil {
		publisher = publish.NewRetrier(
			publish.NewRedisPublisher(deps.Redis.Client),
			publish.RetryPolicy{
				MaxAttempts: deps.Config.Publish.MaxAttempts,
				Delay:       deps.Config.Publish.RetryDelay,
				Timeout:     deps.Config.Publish.Timeout,
			},
			deps.Metrics,
			deps.Logger,
		)
	}

	var archiver storage.Archiver = storage.NopArchiver{}
	if deps.ClickHouse != nil {
		archive := storage.NewClickHouseArchive(
			deps.ClickHouse,
			deps.Config.ClickHouse.FlushSize,
			deps.Config.ClickHouse.FlushInterval,
			deps.Metrics,
			deps.Logger,
		)
		if err := archive.Migrate(context.Background()); err != nil {
			deps.Logger.Warn("archive migration failed, events will be dropped", zap.Error(err))
		}
		archiver = archive
	}

	gate := dedup.NewGate(store, markers, deps.Config.Dedup, nil, deps.Logger)

	trackerSvc := tracker.NewService(
		store, gate, resolver, publisher, archiver,
		deps.Metrics, deps.Config.Publish, nil, deps.Logger,
	)
	reportingSvc := reporting.NewService(store, deps.Catalog, deps.Metrics, nil, deps.Logger)

	s := &Server{
		trackerService:   trackerSvc,
		reportingService: reportingSvc,
		store:            store,
		deps:             deps,
		logger:           deps.Logger,
		config:           deps.Config,
		metrics:          deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking
	mux.HandleFunc("/track", s.handleTrack)

	// Reporting
	mux.HandleFunc("/stats", s.handleStats)

	// Raw event feed
	mux.HandleFunc("/events", s.handleEvents)

	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Store exposes the wired event store for background collaborators.
func (s *Server) Store() storage.Store {
	return s.store
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"status": "ok"}

	if s.deps.DB != nil {
		if err := s.deps.DB.Health(r.Context()); err != nil {
			checks["status"] = "degraded"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Health(r.Context()); err != nil {
			checks["status"] = "degraded"
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	if checks["status"] != "ok" {
		s.jsonResponseStatus(w, checks, http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, checks)
}

// ---- Tracking ----

// trackPayload is the wire shape of a tracking call.
type trackPayload struct {
	EventType string         `json:"event_type"`
	SessionID string         `json:"session_id"`
	IPAddress string         `json:"ip_address"`
	ProductID int64          `json:"product_id"`
	UserID    int64          `json:"user_id"`
	Quantity  int64          `json:"quantity"`
	OrderID   string         `json:"order_id"`
	Extra     map[string]any `json:"extra"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p trackPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if p.IPAddress == "" {
		p.IPAddress = middleware.GetClientIP(r)
	}

	result, err := s.trackerService.Track(r.Context(), &tracker.TrackRequest{
		EventType: p.EventType,
		SessionID: p.SessionID,
		IPAddress: p.IPAddress,
		ProductID: p.ProductID,
		UserID:    p.UserID,
		Quantity:  p.Quantity,
		OrderID:   p.OrderID,
		Extra:     p.Extra,
	})
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("track error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, result)
}

// ---- Reporting ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	report, err := s.reportingService.GetStats(
		r.Context(),
		q.Get("timeframe"),
		q.Get("from"),
		q.Get("to"),
	)
	if err != nil {
		s.logger.Error("stats error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, report)
}

// ---- Raw Events ----

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.errorResponse(w, "invalid since, want RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	events, err := s.store.ListEvents(r.Context(), since, 500)
	if err != nil {
		s.logger.Error("events error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]any{"events": events, "count": len(events)})
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonResponseStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
