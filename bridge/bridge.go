// Package bridge relays NATS subjects into the WebSocket fan-out. Messages
// arriving on the configured subjects are decoded into events and broadcast
// to every live connection, letting backend services push to browsers
// without knowing anything about the socket layer.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
	"github.com/alexanderbartels/marble/metric"
	"github.com/alexanderbartels/marble/retry"
)

const (
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
)

// Broadcaster is the downstream fan-out. The WebSocket listener satisfies
// this interface.
type Broadcaster interface {
	Broadcast(event.Event) error
}

// Config describes a bridge.
type Config struct {
	// URL is the NATS server address, e.g. nats.DefaultURL.
	URL string

	// Subjects to subscribe. At least one is required.
	Subjects []string

	// EventTransformer decodes message payloads. Defaults to
	// event.JSONTransformer. Payloads that fail to decode are forwarded
	// as raw events typed after their subject.
	EventTransformer event.Transformer

	// ConnectRetry schedules the initial connection attempts. Defaults to
	// retry.DefaultPolicy. Reconnects after an established connection
	// drops are handled by the NATS client itself.
	ConnectRetry *retry.Policy

	Logger          *slog.Logger
	MetricsRegistry *metric.Registry
}

// Metrics tracks bridge throughput.
type Metrics struct {
	messagesTotal     *prometheus.CounterVec
	broadcastFailures prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "bridge",
			Name:      "messages_total",
			Help:      "Messages relayed per subject",
		}, []string{"subject"}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marble",
			Subsystem: "bridge",
			Name:      "broadcast_failures_total",
			Help:      "Relayed messages that failed to broadcast",
		}),
	}

	registry.PrometheusRegistry().MustRegister(m.messagesTotal, m.broadcastFailures)
	return m
}

// Bridge subscribes NATS subjects and relays them to a Broadcaster.
type Bridge struct {
	url          string
	subjects     []string
	transformer  event.Transformer
	connectRetry retry.Policy
	broadcaster  Broadcaster
	logger       *slog.Logger
	metrics      *Metrics

	lifecycleMu sync.Mutex
	started     bool
	nc          *nats.Conn
	subs        []*nats.Subscription
}

// New validates cfg and builds an unstarted bridge. The NATS connection is
// established in Start.
func New(cfg Config, broadcaster Broadcaster) (*Bridge, error) {
	if broadcaster == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("broadcaster is required"),
			"bridge.Bridge", "New", "validate config")
	}
	if len(cfg.Subjects) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("at least one subject is required"),
			"bridge.Bridge", "New", "validate config")
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	transformer := cfg.EventTransformer
	if transformer == nil {
		transformer = event.NewJSONTransformer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connectRetry := retry.DefaultPolicy()
	if cfg.ConnectRetry != nil {
		connectRetry = *cfg.ConnectRetry
	}

	return &Bridge{
		url:          url,
		subjects:     cfg.Subjects,
		transformer:  transformer,
		connectRetry: connectRetry,
		broadcaster:  broadcaster,
		logger:       logger,
		metrics:      newMetrics(cfg.MetricsRegistry),
	}, nil
}

// Start connects to NATS and subscribes every configured subject.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started {
		return errors.WrapInvalid(
			fmt.Errorf("bridge already started"),
			"bridge.Bridge", "Start", "start bridge")
	}

	var nc *nats.Conn
	err := b.connectRetry.Do(ctx, func() error {
		var connErr error
		nc, connErr = nats.Connect(b.url,
			nats.Name("marble-bridge"),
			nats.ReconnectWait(defaultReconnectWait),
			nats.MaxReconnects(defaultMaxReconnects),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				b.logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		return connErr
	})
	if err != nil {
		return errors.WrapConnection(err, "bridge.Bridge", "Start", "connect to nats")
	}

	for _, subject := range b.subjects {
		sub, err := nc.Subscribe(subject, b.handleMessage)
		if err != nil {
			for _, s := range b.subs {
				_ = s.Unsubscribe()
			}
			b.subs = nil
			nc.Close()
			return errors.WrapConnection(err, "bridge.Bridge", "Start",
				fmt.Sprintf("subscribe to %s", subject))
		}
		b.subs = append(b.subs, sub)
	}

	b.nc = nc
	b.started = true
	b.logger.Info("bridge started", "url", b.url, "subjects", b.subjects)
	return nil
}

// Stop unsubscribes, drains in-flight messages, and closes the connection.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	b.subs = nil

	done := make(chan struct{})
	go func() {
		if err := b.nc.Drain(); err != nil {
			b.logger.Warn("nats drain failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		b.nc.Close()
		return errors.WrapPipeline(
			fmt.Errorf("drain timed out after %s", timeout),
			"bridge.Bridge", "Stop", "drain nats connection")
	}

	b.nc = nil
	b.logger.Info("bridge stopped")
	return nil
}

// handleMessage relays one NATS message. Payloads that do not decode into
// an event are forwarded raw, typed after the subject they arrived on.
func (b *Bridge) handleMessage(msg *nats.Msg) {
	if b.metrics != nil {
		b.metrics.messagesTotal.WithLabelValues(msg.Subject).Inc()
	}

	ev := b.decode(msg)
	if err := b.broadcaster.Broadcast(ev); err != nil {
		if b.metrics != nil {
			b.metrics.broadcastFailures.Inc()
		}
		b.logger.Warn("broadcast failed", "subject", msg.Subject, "error", err)
	}
}

func (b *Bridge) decode(msg *nats.Msg) event.Event {
	ev, err := b.transformer.Decode(msg.Data)
	if err != nil {
		return event.New(msg.Subject, string(msg.Data))
	}
	return ev
}
