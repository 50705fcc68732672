// Package server exposes the allocation service over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"armory-planner/internal/allocator"
	"armory-planner/internal/history"
	"armory-planner/internal/service"
)

// Options tunes the HTTP front end.
type Options struct {
	RateLimit    float64       // requests per second per client; 0 disables limiting
	Burst        int           // limiter bucket size
	CacheTTL     time.Duration // 0 disables the result cache
	MaxBodyBytes int64
}

// Server serves one Service. Build it with New and mount Handler.
type Server struct {
	svc  *service.Service
	opts Options
	log  *zap.Logger

	results  *cache.Cache // request digest -> *service.AllocateResponse
	limiters *cache.Cache // client address -> *rate.Limiter

	reg      *prometheus.Registry
	metrics  *metrics
	upgrader websocket.Upgrader
}

// New builds a server with its own metrics registry.
func New(svc *service.Service, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		svc:      svc,
		opts:     opts,
		log:      log,
		limiters: cache.New(10*time.Minute, 5*time.Minute),
		reg:      reg,
		metrics:  newMetrics(reg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if opts.CacheTTL > 0 {
		s.results = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return s
}

// Handler routes every endpoint. JSON routes are gzip-compressed when the
// client accepts it; the WebSocket route is left unwrapped.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/allocate", s.instrument("allocate", s.limit(s.handleAllocate)))
	api.HandleFunc("POST /v1/plan", s.instrument("plan", s.limit(s.handlePlan)))
	api.HandleFunc("GET /v1/levels/{track}", s.instrument("levels", s.handleLevels))
	api.HandleFunc("GET /v1/runs", s.instrument("runs", s.handleRuns))
	api.HandleFunc("GET /v1/runs/{id}", s.instrument("run", s.handleRun))
	api.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	root := http.NewServeMux()
	root.HandleFunc("GET /v1/allocate/stream", s.limit(s.handleStream))
	root.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	root.Handle("/", gzhttp.GzipHandler(api))
	return root
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ── Handlers ────────────────────────────────────────────────────────

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}

	key := history.Digest(raw)
	if s.results != nil {
		if v, found := s.results.Get(key); found {
			s.metrics.cacheHits.Inc()
			resp := *v.(*service.AllocateResponse)
			resp.Cached = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
		s.metrics.cacheMisses.Inc()
	}

	resp, err := s.svc.Allocate(r.Context(), raw)
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return
	}
	s.metrics.steps.Observe(float64(len(resp.Result.Steps)))
	if s.results != nil {
		s.results.SetDefault(key, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Plan(r.Context(), raw)
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	rungs, err := s.svc.Levels(r.PathValue("track"))
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rungs)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", q))
			return
		}
		limit = n
	}
	runs, err := s.svc.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.svc.Run(r.Context(), id)
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Frame is one WebSocket message of the allocation stream.
type Frame struct {
	Type   string                    `json:"type"` // "step", "result" or "error"
	Step   *allocator.Step           `json:"step,omitempty"`
	Result *service.AllocateResponse `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// handleStream reads one request message, then sends a frame per committed
// step followed by the final result.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxBodyBytes)

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		s.log.Debug("stream read", zap.Error(err))
		return
	}

	var broken bool
	send := func(f Frame) {
		if broken {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			broken = true
			s.log.Debug("stream write", zap.Error(err))
		}
	}

	start := time.Now()
	resp, err := s.svc.Allocate(r.Context(), raw, allocator.WithObserver(func(st allocator.Step) {
		send(Frame{Type: "step", Step: &st})
	}))
	code := service.StatusCode(err)
	s.metrics.requests.WithLabelValues("stream", strconv.Itoa(code)).Inc()
	s.metrics.duration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	if err != nil {
		send(Frame{Type: "error", Error: err.Error()})
	} else {
		s.metrics.steps.Observe(float64(len(resp.Result.Steps)))
		send(Frame{Type: "result", Result: resp})
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// ── Middleware ──────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		elapsed := time.Since(start)
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Debug("request",
			zap.String("route", route),
			zap.Int("code", rec.code),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(clientKey(r)) {
			s.metrics.limited.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) allow(client string) bool {
	if s.opts.RateLimit <= 0 {
		return true
	}
	if v, ok := s.limiters.Get(client); ok {
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(rate.Limit(s.opts.RateLimit), max(s.opts.Burst, 1))
	if err := s.limiters.Add(client, l, cache.DefaultExpiration); err != nil {
		// another request registered this client first
		if v, ok := s.limiters.Get(client); ok {
			l = v.(*rate.Limiter)
		}
	}
	return l.Allow()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		}
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
