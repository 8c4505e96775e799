package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"crashwatcher/internal/round"
	"crashwatcher/internal/strategy"
)

// Metrics is a prometheus-backed EventSink.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	crashMultiplier prometheus.Histogram
	roundDuration   prometheus.Histogram
	decisions       *prometheus.CounterVec
	modelFaults     *prometheus.CounterVec
	confidence      prometheus.Gauge
	voteFraction    prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crashwatcher_round_events_total",
			Help: "Round lifecycle events by type.",
		}, []string{"type"}),
		crashMultiplier: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crashwatcher_crash_multiplier",
			Help:    "Final multiplier of crashed rounds.",
			Buckets: []float64{1.2, 1.5, 2, 3, 5, 10, 20, 50, 100},
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crashwatcher_round_duration_seconds",
			Help:    "Duration of crashed rounds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crashwatcher_decisions_total",
			Help: "Betting decisions by action.",
		}, []string{"action"}),
		modelFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crashwatcher_model_faults_total",
			Help: "Isolated model faults by model and kind.",
		}, []string{"model", "kind"}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crashwatcher_consensus_confidence",
			Help: "Confidence of the latest consensus forecast.",
		}),
		voteFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crashwatcher_consensus_vote_fraction",
			Help: "Classifier vote fraction of the latest consensus forecast.",
		}),
	}

	registry.MustRegister(
		m.events, m.crashMultiplier, m.roundDuration,
		m.decisions, m.modelFaults, m.confidence, m.voteFraction,
	)
	return m
}

func (m *Metrics) RoundEvent(e round.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()
	if e.Type == round.EventCrash {
		m.crashMultiplier.Observe(e.Multiplier)
	}
}

func (m *Metrics) Decision(d strategy.Decision) {
	m.decisions.WithLabelValues(string(d.Action)).Inc()
	m.confidence.Set(d.Confidence)
	m.voteFraction.Set(d.VoteFraction)
}

func (m *Metrics) ModelFault(modelID string, _ int64, kind string, _ error) {
	m.modelFaults.WithLabelValues(modelID, kind).Inc()
}

// ObserveRound records duration stats for a finalized round.
func (m *Metrics) ObserveRound(r round.Summary) {
	m.roundDuration.Observe(r.Duration.Seconds())
}

// Serve exposes /metrics until the context ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ EventSink = (*Metrics)(nil)
