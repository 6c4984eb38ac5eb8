package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/panorama-harvester/internal/progress"
)

// PrometheusSink exports harvest progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	coordinates        *prometheus.CounterVec
	coordinateDuration *prometheus.HistogramVec
	viewsSaved         *prometheus.CounterVec
	viewBytes          prometheus.Counter

	active map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Harvest runs finished, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_active",
			Help: "Harvest runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Session wall time per finished run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}, []string{"result"}),
		coordinates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_coordinates_total",
			Help: "Coordinates visited, partitioned by year and outcome.",
		}, []string{"year", "outcome"}),
		coordinateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_coordinate_duration_seconds",
			Help:    "Time spent per visited coordinate.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		viewsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_views_saved_total",
			Help: "Views written to the output directory.",
		}, []string{"year"}),
		viewBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_view_bytes_total",
			Help: "Encoded bytes of saved views.",
		}),
		active: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.coordinates,
		s.coordinateDuration,
		s.viewsSaved,
		s.viewBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. The Hub calls it from one goroutine.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if _, ok := s.active[evt.RunID]; !ok {
				s.active[evt.RunID] = struct{}{}
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunInterrupted, progress.StageRunError:
			s.finishRun(evt)
		case progress.StageCoordinate:
			s.coordinates.WithLabelValues(strconv.Itoa(evt.Year), string(evt.Outcome)).Inc()
			if evt.Dur > 0 {
				s.coordinateDuration.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
			}
		case progress.StageViewSaved:
			s.viewsSaved.WithLabelValues(strconv.Itoa(evt.Year)).Inc()
			if evt.Bytes > 0 {
				s.viewBytes.Add(float64(evt.Bytes))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event) {
	result := resultLabel(evt.Stage)
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if _, ok := s.active[evt.RunID]; ok {
		delete(s.active, evt.RunID)
		s.runsActive.Dec()
	}
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageRunInterrupted:
		return "interrupted"
	case progress.StageRunError:
		return "error"
	default:
		return "success"
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
