package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/service/runs"
	"github.com/splax/memtimeline/internal/ws"
)

// RunService is the run workflow the router exposes.
type RunService interface {
	Compute(ctx context.Context, in runs.Input) (runs.Result, error)
	Create(ctx context.Context, in runs.Input) (*domain.AggregationRun, error)
	Get(ctx context.Context, id string) (*domain.AggregationRun, error)
	List(ctx context.Context, label string, limit int) ([]domain.AggregationRun, error)
	Hub() *ws.Hub
}

// Options configures a Router. Zero values select defaults.
type Options struct {
	Logger          *slog.Logger
	Runs            RunService
	Limiter         RateLimiter
	APIToken        string
	DBHealth        func(context.Context) error
	MaxBodyBytes    int64
	StreamHeartbeat time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	runs       RunService
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	apiToken   string
	dbHealth   func(context.Context) error
	maxBody    int64
	heartbeat  time.Duration
	rateLimit  int
	rateWindow time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	aggregations       *prometheus.CounterVec
	selectedDumps      *prometheus.HistogramVec
}

const (
	rateWindowDefault      = time.Minute
	rateWindowRealtime     = 30 * time.Second
	rateLimitDefault       = 120
	rateLimitWebsocket     = 30
	defaultMaxBodyBytes    = 64 << 20
	defaultStreamHeartbeat = 15 * time.Second
	defaultListLimit       = 50
	healthCheckTimeout     = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		runs:   opts.Runs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    opts.Limiter,
		apiToken:   strings.TrimSpace(opts.APIToken),
		dbHealth:   opts.DBHealth,
		maxBody:    opts.MaxBodyBytes,
		heartbeat:  opts.StreamHeartbeat,
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.maxBody <= 0 {
		r.maxBody = defaultMaxBodyBytes
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultStreamHeartbeat
	}
	if r.rateLimit == 0 {
		r.rateLimit = rateLimitDefault
	}
	if r.rateWindow <= 0 {
		r.rateWindow = rateWindowDefault
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/timeline/aggregate", r.audit("/timeline/aggregate", r.handlerAuthRate("/timeline/aggregate", r.rateLimit, r.rateWindow, r.handleAggregate)))
	r.mux.HandleFunc("/runs", r.audit("/runs", r.handlerAuthRate("/runs", r.rateLimit, r.rateWindow, r.handleRuns)))
	r.mux.HandleFunc("/runs/stream", r.audit("/runs/stream", r.handlerAuthRate("/runs/stream", rateLimitWebsocket, rateWindowRealtime, r.handleRunStream)))
	r.mux.HandleFunc("/runs/", r.audit("/runs/{id}", r.handlerAuthRate("/runs/{id}", r.rateLimit, r.rateWindow, r.handleRun)))
	r.mux.HandleFunc("/ws/runs", r.audit("/ws/runs", r.handlerAuthRate("/ws/runs", rateLimitWebsocket, rateWindowRealtime, r.handleRunsWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Warn("database health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleAggregate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload, ok := r.decodeTimeline(w, req, "/timeline/aggregate")
	if !ok {
		return
	}
	result, err := r.runs.Compute(req.Context(), payload.input())
	r.recordAggregation("/timeline/aggregate", len(result.SelectedDumps), err)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newAggregateResponse(result))
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		limit := defaultListLimit
		if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		list, err := r.runs.List(req.Context(), req.URL.Query().Get("label"), limit)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]runs.RunView, 0, len(list))
		for _, run := range list {
			views = append(views, runs.NewRunView(run))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		payload, ok := r.decodeTimeline(w, req, "/runs")
		if !ok {
			return
		}
		run, err := r.runs.Create(req.Context(), payload.input())
		selected := 0
		if run != nil {
			selected = run.SelectedDumps
		}
		r.recordAggregation("/runs", selected, err)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, runs.NewRunView(*run))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	run, err := r.runs.Get(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, runs.NewRunView(*run))
}

func (r *Router) handleRunStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	topic := strings.TrimSpace(req.URL.Query().Get("label"))

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "run", r.logger)
	hub := r.runs.Hub()
	hub.Register(topic, client)
	defer func() {
		hub.Unregister(topic, client)
		client.Close()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleRunsWS(w http.ResponseWriter, req *http.Request) {
	topic := strings.TrimSpace(req.URL.Query().Get("label"))
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.runs.Hub()
	hub.Register(topic, client)
	done := make(chan struct{})
	go func() {
		defer func() {
			close(done)
			hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
}

func (r *Router) decodeTimeline(w http.ResponseWriter, req *http.Request, route string) (timelineRequest, bool) {
	var payload timelineRequest
	body := http.MaxBytesReader(w, req.Body, r.maxBody)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.recordAggregation(route, 0, err)
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return payload, false
		}
		r.recordAggregation(route, 0, fmt.Errorf("%w: %v", errInvalidBody, err))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return payload, false
	}
	return payload, true
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "error", err, "path", req.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Subject
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
