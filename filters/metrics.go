package filters

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus collectors of the bus
type Metrics struct {
	messagesTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	droppedTotal  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
// Collectors already registered by another bus are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventbus",
				Name:      "messages_total",
				Help:      "Messages that completed the pipeline, by direction, event name and outcome.",
			},
			[]string{"direction", "event_name", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventbus",
				Name:      "pipeline_duration_seconds",
				Help:      "Time spent in the remainder of the pipeline.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"direction", "event_name"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventbus",
				Name:      "messages_dropped_total",
				Help:      "Inbound messages dropped before dispatch, by reason.",
			},
			[]string{"event_name", "reason"},
		),
	}

	var err error
	if m.messagesTotal, err = register(registerer, m.messagesTotal); err != nil {
		return nil, err
	}
	if m.duration, err = register(registerer, m.duration); err != nil {
		return nil, err
	}
	if m.droppedTotal, err = register(registerer, m.droppedTotal); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Filter returns a pipeline filter recording messages in direction
func (m *Metrics) Filter(direction Direction) pipeline.Filter {
	return &metricsFilter{metrics: m, direction: string(direction)}
}

// ObserveDrop counts a message dropped by a deserializer
func (m *Metrics) ObserveDrop(eventName, reason string) {
	m.droppedTotal.WithLabelValues(eventName, reason).Inc()
}

type metricsFilter struct {
	metrics   *Metrics
	direction string
}

func (f *metricsFilter) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	start := time.Now()
	err := next(ctx, pc)

	f.metrics.duration.WithLabelValues(f.direction, pc.EventName()).Observe(time.Since(start).Seconds())

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	f.metrics.messagesTotal.WithLabelValues(f.direction, pc.EventName(), outcome).Inc()

	return err
}

func (f *metricsFilter) Name() string {
	return "Metrics"
}
