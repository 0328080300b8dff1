// Package management exposes registry and dispatcher state over HTTP.
package management

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/endorses/filterkit/internal/pkg/loader"
	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/internal/pkg/monitoring"
	"github.com/endorses/filterkit/pkg/dispatch"
	"github.com/endorses/filterkit/pkg/filters"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// Reloader reloads filters from their source.
type Reloader interface {
	Load() (bool, error)
	Failures() []*loader.LoadError
}

// FilterJSON is the wire form of a filter.
type FilterJSON struct {
	Handle      string   `json:"handle"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Contract    string   `json:"contract"`
	Operations  []string `json:"operations"`
	Priority    int      `json:"priority"`
	Active      bool     `json:"active"`
}

// ReloadJSON reports the result of a reload.
type ReloadJSON struct {
	Changed  bool          `json:"changed"`
	Failures []string      `json:"failures,omitempty"`
	Stats    filters.Stats `json:"stats"`
}

// CacheJSON reports dispatch cache state.
type CacheJSON struct {
	Active  bool     `json:"active"`
	Entries int      `json:"entries"`
	Keys    []string `json:"keys"`
}

// ActiveRequest is the body of PUT /filters/{handle}/active and PUT /cache.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// PriorityRequest is the body of PUT /filters/{handle}/priority.
type PriorityRequest struct {
	Priority *int `json:"priority"`
}

// Option configures a Server.
type Option func(*Server)

// WithReloader enables POST /filters/reload.
func WithReloader(r Reloader) Option {
	return func(s *Server) {
		s.reloader = r
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithConsole serves recent log records from buf.
func WithConsole(buf *logger.ConsoleBuffer) Option {
	return func(s *Server) {
		s.console = buf
	}
}

// WithTracing instruments the handler with server spans.
func WithTracing(enabled bool) Option {
	return func(s *Server) {
		s.tracing = enabled
	}
}

// Server is the management HTTP surface.
type Server struct {
	registry   *filters.Registry
	dispatcher *dispatch.Dispatcher
	reloader   Reloader
	metrics    http.Handler
	console    *logger.ConsoleBuffer
	tracing    bool
	handler    http.Handler

	mu      sync.RWMutex
	handles map[string]*filters.Filter
}

// NewServer creates a management server for registry and dispatcher.
func NewServer(registry *filters.Registry, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		registry:   registry,
		dispatcher: dispatcher,
		handles:    make(map[string]*filters.Filter),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.index(registry.AllFilters())
	registry.OnChange(func(e filters.ChangeEvent) {
		s.index(e.Added)
		logger.Debug("Management handle index refreshed", "added", len(e.Added), "generation", e.Generation)
	})

	s.handler = monitoring.WrapHandler(s.tracing, "filterkit.management", s.routes())
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting management server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown: %w", err)
	}
	logger.Info("Management server stopped")
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Route("/filters", func(r chi.Router) {
			r.Get("/", s.listFilters)
			r.Get("/active", s.activeFilters)
			r.Post("/reload", s.reload)
			r.Get("/{handle}", s.getFilter)
			r.Put("/{handle}/active", s.setActive)
			r.Put("/{handle}/priority", s.setPriority)
		})
		r.Route("/cache", func(r chi.Router) {
			r.Get("/", s.getCache)
			r.Put("/", s.setCache)
			r.Delete("/", s.clearCache)
		})
		r.Get("/console", s.getConsole)
	})
	return r
}

func (s *Server) index(fs []*filters.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fs {
		s.handles[f.Handle()] = f
	}
}

// lookup finds a filter by handle. The registry is consulted when the
// index has not caught up with a load yet.
func (s *Server) lookup(handle string) (*filters.Filter, error) {
	s.mu.RLock()
	f, ok := s.handles[handle]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}
	if f, ok := s.registry.ByHandle(handle); ok {
		s.index([]*filters.Filter{f})
		return f, nil
	}
	return nil, fmt.Errorf("%w: handle %s", filters.ErrUnknownFilter, handle)
}

func (s *Server) listFilters(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.AllFilters()
	out := make([]FilterJSON, 0, len(all))
	for _, f := range all {
		out = append(out, toJSON(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) activeFilters(w http.ResponseWriter, _ *http.Request) {
	active := s.registry.ActiveFilters()
	out := make(map[string]FilterJSON, len(active))
	for key, f := range active {
		out[key] = toJSON(f)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getFilter(w http.ResponseWriter, r *http.Request) {
	f, err := s.lookup(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(f))
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	f, err := s.lookup(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ActiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, fmt.Errorf("%w: active is required", errBadBody))
		return
	}
	if err := s.registry.SetActive(f, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(f))
}

func (s *Server) setPriority(w http.ResponseWriter, r *http.Request) {
	f, err := s.lookup(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PriorityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Priority == nil {
		writeError(w, r, fmt.Errorf("%w: priority is required", errBadBody))
		return
	}
	if err := s.registry.SetPriority(f, *req.Priority); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(f))
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, r, errNoLoader)
		return
	}
	changed, err := s.reloader.Load()
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ReloadJSON{Changed: changed, Stats: s.registry.Stats()}
	for _, f := range s.reloader.Failures() {
		resp.Failures = append(resp.Failures, f.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

func (s *Server) getCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cacheState())
}

func (s *Server) setCache(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, fmt.Errorf("%w: active is required", errBadBody))
		return
	}
	s.dispatcher.SetCacheActive(*req.Active)
	writeJSON(w, http.StatusOK, s.cacheState())
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	s.dispatcher.ClearCache()
	writeJSON(w, http.StatusOK, s.cacheState())
}

func (s *Server) cacheState() CacheJSON {
	keys := s.dispatcher.CacheKeys()
	return CacheJSON{
		Active:  s.dispatcher.CacheActive(),
		Entries: len(keys),
		Keys:    keys,
	}
}

func (s *Server) getConsole(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: n must be an integer", errBadBody))
			return
		}
		n = v
	}

	entries := []logger.LogEntry{}
	if s.console != nil {
		if recent := s.console.GetRecent(n); recent != nil {
			entries = recent
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func toJSON(f *filters.Filter) FilterJSON {
	return FilterJSON{
		Handle:      f.Handle(),
		ID:          f.ID(),
		Description: f.Description(),
		Contract:    f.ContractKey(),
		Operations:  f.Operations(),
		Priority:    f.Priority(),
		Active:      f.Active(),
	}
}

// requestID tags each request with an ID, reusing the caller's.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFrom returns the request ID stored in ctx.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("Management request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", RequestIDFrom(r.Context()))
	})
}
