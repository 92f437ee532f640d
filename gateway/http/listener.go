// Package http provides the HTTP listener: per-request effect pipelines
// resolved against the routing tree.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
	"github.com/alexanderbartels/marble/gateway"
	"github.com/alexanderbartels/marble/metric"
	"github.com/alexanderbartels/marble/router"
)

// Config holds the per-listener configuration.
type Config struct {
	// Middlewares are pre-routing stages applied before the matched effect.
	// They never run for unmatched routes.
	Middlewares []effect.Effect

	// Effects and Groups are the routing declarations.
	Effects []router.Route
	Groups  []router.Group

	// ErrorEffect overrides the default error serialization.
	ErrorEffect effect.Effect

	// OutputEffect is the post-effect transformer applied before the
	// transport write.
	OutputEffect effect.Effect

	// CORS controls cross-origin headers.
	CORS gateway.CORSConfig

	// Logger receives structured listener logs; nil uses slog.Default().
	Logger *slog.Logger

	// MetricsRegistry enables Prometheus metrics when non-nil.
	MetricsRegistry *metric.Registry
}

// Metrics holds Prometheus metrics for the HTTP listener
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestsFailed  prometheus.Counter
	notFoundTotal   prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// newMetrics creates and registers listener metrics
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "http_listener",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled",
		}, []string{"method"}),

		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "http_listener",
			Name:      "requests_failed_total",
			Help:      "Total HTTP requests that terminated with an error status",
		}),

		notFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "http_listener",
			Name:      "not_found_total",
			Help:      "Total requests that matched no route",
		}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marble",
			Subsystem: "http_listener",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request pipeline duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"method"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.requestsTotal,
		metrics.requestsFailed,
		metrics.notFoundTotal,
		metrics.requestDuration,
	)

	return metrics
}

// Listener turns inbound HTTP requests into single-use effect pipelines.
// It implements http.Handler; mount it on a gateway.Server or any mux.
type Listener struct {
	tree       *router.Tree
	middleware effect.Effect
	errorStage effect.Effect
	output     effect.Effect
	cors       gateway.CORSConfig
	ectx       *effect.Context
	logger     *slog.Logger
	metrics    *Metrics
}

// NewListener builds a listener from configuration. Routing configuration
// errors are reported here, at build time.
func NewListener(cfg Config, ectx *effect.Context) (*Listener, error) {
	if ectx == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Listener", "NewListener",
			"effect context is required")
	}
	if err := cfg.CORS.Validate(); err != nil {
		return nil, err
	}

	tree, err := router.Build(cfg.Effects, cfg.Groups...)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		tree:       tree,
		middleware: effect.Combine(cfg.Middlewares...),
		errorStage: effect.ProvideErrorEffect(cfg.ErrorEffect, nil, logger),
		output:     cfg.OutputEffect,
		cors:       cfg.CORS,
		ectx:       ectx,
		logger:     logger,
		metrics:    newMetrics(cfg.MetricsRegistry),
	}, nil
}

// ServeHTTP handles one request with exactly one terminal write, whether via
// a matched effect or the not-found fallback.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if l.metrics != nil {
		l.metrics.requestsTotal.WithLabelValues(r.Method).Inc()
	}

	l.cors.Apply(w, r)

	// The send capability is attached before resolution so any downstream
	// stage can finalize the response.
	response := NewResponse(w)
	request := &Request{
		Request:  r,
		Response: response,
		Body:     make(map[string]any),
	}

	match, ok := l.tree.Resolve(r.Method, r.URL.Path)
	if !ok && l.cors.Enabled && r.Method == http.MethodOptions {
		// Preflight for a path without an explicit OPTIONS route. A
		// registered OPTIONS effect takes precedence below.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !ok {
		l.handleNotFound(request)
	} else {
		request.Params = match.Params
		l.runPipeline(request, match.Effect)
	}

	if l.metrics != nil {
		l.metrics.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	}
}

// runPipeline pushes the single initiating event through middleware, the
// matched effect, the error stage, and the output transformer.
func (l *Listener) runPipeline(request *Request, matched effect.Effect) {
	stages := []effect.Effect{l.middleware, matched, l.errorStage}
	if l.output != nil {
		stages = append(stages, l.output)
	}
	pipeline := effect.Combine(stages...)

	in := make(chan event.Event, 1)
	in <- event.New(event.TypeRequest, request)
	close(in)

	out := pipeline(in, l.ectx)

	terminal, got := firstEvent(out)
	if !got {
		l.logger.Error("pipeline produced no output",
			"method", request.Method, "path", request.URL.Path)
		l.writeFallback(request.Response)
		return
	}
	l.writeEvent(request.Response, terminal)
}

// handleNotFound short-circuits directly to the output stage; the middleware
// chain and routed effects are never invoked for unmatched routes.
func (l *Listener) handleNotFound(request *Request) {
	if l.metrics != nil {
		l.metrics.notFoundTotal.Inc()
		l.metrics.requestsFailed.Inc()
	}

	notFound := event.New(event.TypeNotFound, gateway.ErrorBody{
		Error:  "resource not found",
		Status: http.StatusNotFound,
	})

	if l.output != nil {
		in := make(chan event.Event, 1)
		in <- notFound
		close(in)

		if transformed, got := firstEvent(l.output(in, l.ectx)); got {
			notFound = transformed
		}
	}
	l.writeEvent(request.Response, notFound)
}

// writeEvent performs the terminal write for one pipeline output event.
func (l *Listener) writeEvent(response *Response, ev event.Event) {
	var status int
	var body any

	switch payload := ev.Payload.(type) {
	case Body:
		status = payload.Status
		if status == 0 {
			status = http.StatusOK
		}
		for key, values := range payload.Headers {
			for _, value := range values {
				response.Header().Add(key, value)
			}
		}
		body = payload.Data
	case effect.ErrorPayload:
		status = payload.Status
		body = payload
	case gateway.ErrorBody:
		status = payload.Status
		body = payload
	default:
		status = http.StatusOK
		body = ev.Payload
	}

	if err := response.Send(status, body); err != nil {
		if err == errors.ErrResponseSent {
			// A stage already finalized the response; exactly one terminal
			// write happened, nothing to do.
			return
		}
		l.logger.Error("terminal write failed", "error", err)
	}

	if l.metrics != nil && status >= http.StatusBadRequest {
		l.metrics.requestsFailed.Inc()
	}
}

// writeFallback guarantees the one-terminal-write contract when a pipeline
// terminates without producing any event.
func (l *Listener) writeFallback(response *Response) {
	if response.Sent() {
		return
	}
	if l.metrics != nil {
		l.metrics.requestsFailed.Inc()
	}
	_ = response.Send(http.StatusInternalServerError, gateway.ErrorBody{
		Error:  "internal server error",
		Status: http.StatusInternalServerError,
	})
}

// firstEvent takes the first event off the channel and drains the rest so
// upstream stage goroutines always terminate.
func firstEvent(out <-chan event.Event) (event.Event, bool) {
	terminal, got := event.Event{}, false
	for ev := range out {
		if !got {
			terminal, got = ev, true
		}
	}
	return terminal, got
}
