// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bryan-buckman/listfeed/internal/feed"
)

// Feed is the session surface driven by the API.
type Feed interface {
	OnEnter()
	OnReachEnd()
	OnPullToRefresh()
	Snapshot() feed.Snapshot
}

// QueueInfo reports on the persisted candidate queue.
type QueueInfo interface {
	Len(ctx context.Context) int
	RefilledAt(ctx context.Context) time.Time
}

// Server is the main HTTP server.
type Server struct {
	feed     Feed
	queue    QueueInfo
	gatherer prometheus.Gatherer
	log      *zap.Logger
	router   chi.Router
	http     *http.Server
}

// New creates a new server. gatherer may be nil to leave /metrics unmounted.
// The API drives a single Feed, so it serves one client: a second client
// entering or refreshing resets the feed the first one is paging through.
func New(f Feed, q QueueInfo, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		feed:     f,
		queue:    q,
		gatherer: gatherer,
		log:      log.Named("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", s.handleFeed)
		r.Post("/feed/enter", s.handleEnter)
		r.Post("/feed/more", s.handleMore)
		r.Post("/feed/refresh", s.handleRefresh)
		r.Get("/queue", s.handleQueue)
	})

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("server starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// --- API Handlers ---

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

// The lifecycle calls return immediately; clients poll GET /api/feed.

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	s.feed.OnEnter()
	writeJSON(w, http.StatusAccepted, s.feed.Snapshot())
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	s.feed.OnReachEnd()
	writeJSON(w, http.StatusAccepted, s.feed.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.feed.OnPullToRefresh()
	writeJSON(w, http.StatusAccepted, s.feed.Snapshot())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"length": s.queue.Len(r.Context()),
	}
	if at := s.queue.RefilledAt(r.Context()); !at.IsZero() {
		resp["refilled_at"] = at.Format(time.RFC3339)
	} else {
		resp["refilled_at"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
