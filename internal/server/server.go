package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/ingest"
	"github.com/Zuo-Peng/chatmask/internal/session"
	"github.com/Zuo-Peng/chatmask/internal/store"
)

// Submitter delivers a masked submission.
type Submitter interface {
	Submit(ctx context.Context, sub export.Submission) error
}

// HelpSender forwards a support request.
type HelpSender interface {
	Send(ctx context.Context, email, message string) error
}

// Deps are the collaborators a Server works with. Store, Submitter and Help
// may be nil.
type Deps struct {
	Session        *session.Session
	Ingester       *ingest.Ingester
	Store          *store.DB
	Submitter      Submitter
	Help           HelpSender
	Logger         *zap.Logger
	Registry       *prometheus.Registry
	ParticipantID  string
	MaxUploadBytes int64
}

type Server struct {
	router   *chi.Mux
	addr     string
	deps     Deps
	log      *zap.Logger
	requests *prometheus.CounterVec
	now      func() time.Time

	// rulesMu serializes rule mutations with their persistence.
	rulesMu sync.Mutex
}

func New(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(collectors.NewGoCollector())
	}
	if d.Ingester == nil {
		d.Ingester = &ingest.Ingester{Logger: d.Logger}
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 512 << 20
	}

	s := &Server{
		router: chi.NewRouter(),
		addr:   addr,
		deps:   d,
		log:    d.Logger,
		requests: promauto.With(d.Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "chatmask_http_requests_total",
			Help: "HTTP requests, by route pattern and status code",
		}, []string{"route", "code"}),
		now: time.Now,
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/archive", s.uploadArchive)
		r.Get("/conversations", s.listConversations)
		r.Get("/conversations/{id}", s.getConversation)
		r.Post("/conversations/{id}/toggle", s.toggleConversation)
		r.Post("/conversations/select", s.selectAll)
		r.Get("/rules", s.listRules)
		r.Post("/rules", s.addRule)
		r.Delete("/rules", s.removeRule)
		r.Get("/export", s.export)
		r.Post("/submit", s.submit)
		r.Post("/help", s.help)
		r.Delete("/session", s.reset)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("API server starting", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, hint string) {
	writeJSON(w, status, errorBody{Error: err.Error(), Hint: hint})
}
