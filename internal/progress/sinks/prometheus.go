package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scanfleet/internal/progress"
)

// PrometheusSink exports worker lifecycle metrics derived from progress
// events. It owns its collectors so tests can register them on a private
// registry.
type PrometheusSink struct {
	workerStarts   prometheus.Counter
	workerStops    prometheus.Counter
	workerFailures *prometheus.CounterVec
	pauses         *prometheus.CounterVec

	scans        *prometheus.CounterVec
	entities     prometheus.Counter
	scanDuration *prometheus.HistogramVec
	ingestErrors prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		workerStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_worker_starts_total",
			Help: "Total workers that entered their scan loop.",
		}),
		workerStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_worker_stops_total",
			Help: "Total workers that exited their scan loop.",
		}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_worker_failures_total",
			Help: "Workers that stopped scanning permanently, partitioned by failure kind.",
		}, []string{"kind"}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_worker_pause_transitions_total",
			Help: "Pause and resume transitions observed by workers.",
		}, []string{"direction"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_scans_total",
			Help: "Scan attempts partitioned by outcome.",
		}, []string{"outcome"}),
		entities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_entities_forwarded_total",
			Help: "Entities forwarded to the ingestion sink.",
		}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanfleet_scan_duration_seconds",
			Help:    "Scan latency partitioned by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		ingestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_ingest_errors_total",
			Help: "Scan results the ingestion sink rejected.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.workerStarts,
		s.workerStops,
		s.workerFailures,
		s.pauses,
		s.scans,
		s.entities,
		s.scanDuration,
		s.ingestErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageWorkerStart:
		s.workerStarts.Inc()
	case progress.StageWorkerStop:
		s.workerStops.Inc()
	case progress.StageWorkerFailed:
		s.workerFailures.WithLabelValues(evt.Class).Inc()
	case progress.StageWorkerPaused:
		s.pauses.WithLabelValues("pause").Inc()
	case progress.StageWorkerResume:
		s.pauses.WithLabelValues("resume").Inc()
	case progress.StageScanDone:
		s.observeScan("success", evt)
		if evt.Entities > 0 {
			s.entities.Add(float64(evt.Entities))
		}
	case progress.StageScanError:
		s.observeScan(evt.Class, evt)
	case progress.StageIngestError:
		s.ingestErrors.Inc()
	}
}

func (s *PrometheusSink) observeScan(outcome string, evt progress.Event) {
	s.scans.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.scanDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
