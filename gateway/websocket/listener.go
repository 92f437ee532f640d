package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
	"github.com/alexanderbartels/marble/gateway"
	"github.com/alexanderbartels/marble/metric"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultBufferSize        = 1024
)

// AdmissionFunc decides whether an upgrade request may proceed. Returning
// false rejects with 401. Returning a *errors.ConnectionError rejects with
// the error's status and message instead.
type AdmissionFunc func(r *http.Request) (bool, error)

// Config describes a WebSocket listener.
type Config struct {
	// Middlewares form the inbound pipeline, applied to every decoded frame.
	Middlewares []effect.Effect

	// Effects form the outbound pipeline, applied to events emerging from
	// the middleware chain before they are written back to the socket.
	Effects []effect.Effect

	// ErrorEffect customizes failure events. Optional; the default
	// serializer applies when nil or when the custom effect fails.
	ErrorEffect effect.Effect

	// OutputEffect runs last on the outbound pipeline, after Effects.
	OutputEffect effect.Effect

	// Connection gates the upgrade. Nil admits every request.
	Connection AdmissionFunc

	// EventTransformer decodes inbound frames and encodes outbound events.
	// Defaults to event.JSONTransformer.
	EventTransformer event.Transformer

	// HeartbeatInterval is the ping sweep period. Defaults to 30s.
	HeartbeatInterval time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	Logger          *slog.Logger
	MetricsRegistry *metric.Registry
}

// Metrics tracks listener activity. All fields are nil when no registry is
// configured; the track helpers tolerate that.
type Metrics struct {
	connectionsActive     prometheus.Gauge
	connectionsTotal      prometheus.Counter
	connectionsRejected   prometheus.Counter
	resubscriptionsTotal  *prometheus.CounterVec
	heartbeatTerminations prometheus.Counter
	broadcastDuration     prometheus.Histogram
	errorsTotal           *prometheus.CounterVec
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "connections_active",
			Help:      "Currently open WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "connections_rejected_total",
			Help:      "Upgrade requests rejected by the admission gate",
		}),
		resubscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "resubscriptions_total",
			Help:      "Pipeline resubscriptions after a failure",
		}, []string{"pipeline"}),
		heartbeatTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "heartbeat_terminations_total",
			Help:      "Connections terminated by the heartbeat sweep",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "broadcast_duration_seconds",
			Help:      "Broadcast fan-out latency",
			Buckets:   prometheus.DefBuckets,
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "ws_listener",
			Name:      "errors_total",
			Help:      "Listener errors by kind",
		}, []string{"kind"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.connectionsRejected,
		m.resubscriptionsTotal,
		m.heartbeatTerminations,
		m.broadcastDuration,
		m.errorsTotal,
	)
	return m
}

// Listener upgrades HTTP requests to WebSocket connections and runs the
// configured event pipelines for each of them. It implements http.Handler
// and is mounted on a gateway.Server like any other handler.
type Listener struct {
	upgrader    websocket.Upgrader
	registry    *Registry
	ectx        *effect.Context
	middleware  effect.Effect
	effects     effect.Effect
	errorStage  effect.Effect
	output      effect.Effect
	admission   AdmissionFunc
	transformer event.Transformer
	heartbeat   time.Duration
	logger      *slog.Logger
	metrics     *Metrics

	lifecycleMu sync.Mutex
	started     atomic.Bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

var _ http.Handler = (*Listener)(nil)

// NewListener builds a listener from cfg. The supplied context carries the
// shared dependencies handed to every effect; per-connection contexts are
// derived from it with the connected client attached.
func NewListener(cfg Config, ectx *effect.Context) (*Listener, error) {
	if ectx == nil {
		ectx = effect.NewContext(nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transformer := cfg.EventTransformer
	if transformer == nil {
		transformer = event.NewJSONTransformer()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	readBuffer := cfg.ReadBufferSize
	if readBuffer <= 0 {
		readBuffer = defaultBufferSize
	}
	writeBuffer := cfg.WriteBufferSize
	if writeBuffer <= 0 {
		writeBuffer = defaultBufferSize
	}

	l := &Listener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		registry:    NewRegistry(transformer, logger),
		ectx:        ectx,
		middleware:  effect.Combine(cfg.Middlewares...),
		effects:     effect.Combine(cfg.Effects...),
		errorStage:  effect.ProvideErrorEffect(cfg.ErrorEffect, transformer, logger),
		output:      cfg.OutputEffect,
		admission:   cfg.Connection,
		transformer: transformer,
		heartbeat:   heartbeat,
		logger:      logger,
		metrics:     newMetrics(cfg.MetricsRegistry),
	}
	return l, nil
}

// Start launches the heartbeat sweep. The listener rejects upgrades with
// 503 until started.
func (l *Listener) Start(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.started.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("listener already started"),
			"websocket.Listener", "Start", "start listener")
	}

	l.shutdown = make(chan struct{})
	l.wg.Add(1)
	go l.maintainClients(ctx)
	l.started.Store(true)

	l.logger.Info("websocket listener started", "heartbeat", l.heartbeat)
	return nil
}

// Stop terminates every open connection and waits for their goroutines,
// up to timeout.
func (l *Listener) Stop(timeout time.Duration) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if !l.started.Load() {
		return nil
	}
	l.started.Store(false)
	close(l.shutdown)

	for _, client := range l.registry.snapshot() {
		client.terminate()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("websocket listener stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapPipeline(
			fmt.Errorf("shutdown timed out after %s", timeout),
			"websocket.Listener", "Stop", "wait for connections")
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.started.Load() {
		gateway.WriteError(w, http.StatusServiceUnavailable, "listener not started")
		return
	}

	if accepted, status, msg := l.admit(r); !accepted {
		if l.metrics != nil {
			l.metrics.connectionsRejected.Inc()
		}
		gateway.WriteError(w, status, msg)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		l.trackError("upgrade")
		l.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(uuid.NewString(), conn, l.registry, l.transformer)
	l.registry.add(client)
	if l.metrics != nil {
		l.metrics.connectionsActive.Inc()
		l.metrics.connectionsTotal.Inc()
	}
	l.logger.Debug("client connected", "client", client.id, "remote", r.RemoteAddr)

	c := newConnection(l, client, l.ectx.WithClient(client))
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		c.run()
	}()
}

// admit evaluates the admission gate. A panic inside the gate counts as a
// rejection, never as an accepted connection.
func (l *Listener) admit(r *http.Request) (accepted bool, status int, msg string) {
	if l.admission == nil {
		return true, 0, ""
	}

	ok, err := l.callAdmission(r)
	if err != nil {
		return false, errors.HTTPStatus(err), errors.Sanitize(err)
	}
	if !ok {
		return false, http.StatusUnauthorized, "connection rejected"
	}
	return true, 0, ""
}

func (l *Listener) callAdmission(r *http.Request) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = errors.WrapConnection(
				fmt.Errorf("admission panicked: %v", rec),
				"websocket.Listener", "callAdmission", "evaluate admission")
		}
	}()
	return l.admission(r)
}

// Broadcast fans ev out to every live connection. A single failing client
// is terminated and skipped; the remaining deliveries proceed.
func (l *Listener) Broadcast(ev event.Event) error {
	start := time.Now()
	err := l.registry.Broadcast(ev)
	if l.metrics != nil {
		l.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

// ClientCount reports the number of registered connections.
func (l *Listener) ClientCount() int {
	return l.registry.Count()
}

// maintainClients runs the heartbeat sweep until shutdown.
func (l *Listener) maintainClients(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep terminates clients that missed the previous ping and challenges
// the rest. A pong arriving before the next sweep restores liveness via
// the pong handler.
func (l *Listener) sweep() {
	for _, client := range l.registry.snapshot() {
		if !client.alive.Load() {
			l.logger.Info("terminating unresponsive client", "client", client.id)
			client.terminate()
			if l.metrics != nil {
				l.metrics.heartbeatTerminations.Inc()
			}
			continue
		}

		client.alive.Store(false)
		if err := client.ping(); err != nil {
			l.logger.Debug("ping failed", "client", client.id, "error", err)
			client.terminate()
		}
	}
}

func (l *Listener) trackError(kind string) {
	if l.metrics != nil {
		l.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}

func (l *Listener) trackResubscription(pipeline string) {
	if l.metrics != nil {
		l.metrics.resubscriptionsTotal.WithLabelValues(pipeline).Inc()
	}
}

func (l *Listener) connectionClosed() {
	if l.metrics != nil {
		l.metrics.connectionsActive.Dec()
	}
}
