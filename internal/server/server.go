// Package server exposes the cache engine over HTTP for sandboxed
// applications, which address it by tenant.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/cache"
	"github.com/wudi/tagcache/internal/config"
	"github.com/wudi/tagcache/internal/errors"
	"github.com/wudi/tagcache/internal/logging"
	"github.com/wudi/tagcache/internal/metrics"
	"github.com/wudi/tagcache/internal/middleware"
	"github.com/wudi/tagcache/internal/tracing"
)

// Cache is the engine surface served by the API.
type Cache interface {
	Get(ctx context.Context, tenant, key string) ([]byte, bool, error)
	Set(ctx context.Context, tenant, key string, value []byte, opts cache.SetOptions) (bool, error)
	Delete(ctx context.Context, tenant, key string) (bool, error)
	Expire(ctx context.Context, tenant, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, tenant, key string) (time.Duration, bool, error)
	PurgeByTag(ctx context.Context, tenant, tag string) ([]string, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Server      config.ServerConfig
	OpTimeout   time.Duration // deadline for each request's cache call, 0 for none
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer // serves MetricsPath when set
	MetricsPath string
	Tracer      *tracing.Tracer
}

// Server is the HTTP API.
type Server struct {
	cache      Cache
	opts       Options
	router     *httprouter.Router
	handler    http.Handler
	httpServer *http.Server
}

// New creates a Server backed by c.
func New(c Cache, opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		cache:  c,
		opts:   opts,
		router: httprouter.New(),
	}

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrNotFound.WriteJSON(w)
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrMethodNotAllowed.WriteJSON(w)
	})

	s.handle(http.MethodGet, "/v1/cache/:tenant/:key", s.handleGet)
	s.handle(http.MethodPut, "/v1/cache/:tenant/:key", s.handleSet)
	s.handle(http.MethodDelete, "/v1/cache/:tenant/:key", s.handleDelete)
	s.handle(http.MethodPost, "/v1/cache/:tenant/:key/expire", s.handleExpire)
	s.handle(http.MethodGet, "/v1/cache/:tenant/:key/ttl", s.handleTTL)
	s.handle(http.MethodPost, "/v1/tags/:tenant/:tag/purge", s.handlePurge)
	s.handle(http.MethodGet, "/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		s.router.Handler(http.MethodGet, opts.MetricsPath, metrics.Handler(opts.Gatherer))
	}

	s.handler = middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog("/healthz", opts.MetricsPath),
	).Then(s.router)

	s.httpServer = &http.Server{
		Addr:         opts.Server.Address,
		Handler:      s.handler,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
		IdleTimeout:  opts.Server.IdleTimeout,
	}
	return s
}

// Handler returns the API handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP API listening", zap.String("address", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logging.Info("Shutting down HTTP API")
	return s.httpServer.Shutdown(shutdownCtx)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error

// handle registers h with the per-call deadline, tracing, metrics and JSON
// error rendering.
func (s *Server) handle(method, route string, h handlerFunc) {
	s.router.Handle(method, route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		reqID := middleware.RequestIDFromContext(r.Context())

		sw := middleware.NewStatusRecorder(w)
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if s.opts.OpTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.opts.OpTimeout)
				defer cancel()
			}
			if err := h(w, r.WithContext(ctx), ps); err != nil {
				writeError(w, err, reqID)
			}
		})

		if s.opts.Tracer != nil {
			var attrs []attribute.KeyValue
			if tenant := ps.ByName("tenant"); tenant != "" {
				attrs = append(attrs, attribute.String("cache.tenant", tenant))
			}
			s.opts.Tracer.Middleware(route, inner, attrs...).ServeHTTP(sw, r)
		} else {
			inner.ServeHTTP(sw, r)
		}

		s.opts.Metrics.RecordRequest(route, method, sw.Status(), time.Since(start))
	})
}

func writeError(w http.ResponseWriter, err error, reqID string) {
	ce, ok := errors.As(err)
	if !ok {
		logging.Error("Unhandled API error", zap.Error(err), zap.String("request_id", reqID))
		errors.ErrInternalServer.WithRequestID(reqID).WriteJSON(w)
		return
	}
	ce.WithRequestID(reqID).WriteJSON(w)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	value, found, err := s.cache.Get(r.Context(), ps.ByName("tenant"), ps.ByName("key"))
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrNotFound
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	w.Write(value)
	return nil
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	ttl, err := parseTTL(cache.OpSet, r.URL.Query().Get("ttl"), false)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.ErrRequestEntityTooLarge
		}
		return errors.ErrBadRequest.WithDetails(err.Error())
	}

	opts := cache.SetOptions{TTL: ttl, Tags: r.URL.Query()["tag"]}
	ok, err := s.cache.Set(r.Context(), ps.ByName("tenant"), ps.ByName("key"), body, opts)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrInternalServer
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	deleted, err := s.cache.Delete(r.Context(), ps.ByName("tenant"), ps.ByName("key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	return nil
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	ttl, err := parseTTL(cache.OpExpire, r.URL.Query().Get("ttl"), true)
	if err != nil {
		return err
	}
	updated, err := s.cache.Expire(r.Context(), ps.ByName("tenant"), ps.ByName("key"), ttl)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
	return nil
}

type ttlResponse struct {
	TTLSeconds int64 `json:"ttl_seconds"` // -1 when the entry never expires
	TTLMillis  int64 `json:"ttl_ms"`
}

func (s *Server) handleTTL(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	ttl, found, err := s.cache.TTL(r.Context(), ps.ByName("tenant"), ps.ByName("key"))
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrNotFound
	}
	resp := ttlResponse{TTLSeconds: -1, TTLMillis: -1}
	if ttl != cache.NoExpiration {
		resp.TTLSeconds = int64(ttl / time.Second)
		resp.TTLMillis = ttl.Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	purged, err := s.cache.PurgeByTag(r.Context(), ps.ByName("tenant"), ps.ByName("tag"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string][]string{"purged": purged})
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	if err := s.cache.Ping(r.Context()); err != nil {
		logging.Warn("Health check failed", zap.Error(err))
		return errors.ErrServiceUnavailable
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (s *Server) maxBodyBytes() int64 {
	if s.opts.Server.MaxBodyBytes > 0 {
		return s.opts.Server.MaxBodyBytes
	}
	return 10 << 20
}

// parseTTL accepts a Go duration ("90s", "1h") or bare integer seconds.
func parseTTL(op, raw string, required bool) (time.Duration, error) {
	if raw == "" {
		if required {
			return 0, errors.InvalidInput(op, "ttl is required")
		}
		return 0, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return 0, errors.InvalidInput(op, "ttl must not be negative")
		}
		if n > int64(math.MaxInt64/time.Second) {
			return 0, errors.InvalidInput(op, "ttl too large")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.InvalidInput(op, "invalid ttl: "+raw)
	}
	if d < 0 {
		return 0, errors.InvalidInput(op, "ttl must not be negative")
	}
	return d, nil
}
