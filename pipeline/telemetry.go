package pipeline

import (
	"time"

	"github.com/aouyang1/go-ensembler/uplift"
	"github.com/prometheus/client_golang/prometheus"
)

// Stages
const (
	StageLoad     = "load"
	StageDerive   = "derive"
	StageSplit    = "split"
	StageSelect   = "select"
	StageAblation = "ablation"
	StageQuantile = "quantile"
	StagePlan     = "plan"
	StageUplift   = "uplift"
	StageWrite    = "write"
)

// Telemetry holds the collectors of a single run. A nil Telemetry records nothing.
type Telemetry struct {
	Registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	modelFits     *prometheus.CounterVec
	crossings     prometheus.Counter
	upliftMerges  *prometheus.CounterVec
}

func NewTelemetry() *Telemetry {
	t := &Telemetry{
		Registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ensembler_stage_duration_seconds",
				Help:    "Wall time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage"},
		),
		modelFits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensembler_model_fits_total",
				Help: "Model fits by model id and result",
			},
			[]string{"model", "result"},
		),
		crossings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ensembler_quantile_crossings_total",
				Help: "Adjacent quantile pairs whose forecasts cross",
			},
		),
		upliftMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensembler_uplift_merges_total",
				Help: "Uplift history merges by action",
			},
			[]string{"result"},
		),
	}
	t.Registry.MustRegister(t.stageDuration, t.modelFits, t.crossings, t.upliftMerges)
	return t
}

// ObserveFit counts a model fit
func (t *Telemetry) ObserveFit(model string, err error) {
	if t == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.modelFits.WithLabelValues(model, result).Inc()
}

// Stage starts timing a stage. The returned func records the elapsed time.
func (t *Telemetry) Stage(stage string) func() {
	start := time.Now()
	return func() {
		if t == nil {
			return
		}
		t.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (t *Telemetry) ObserveCrossings(n int) {
	if t == nil {
		return
	}
	t.crossings.Add(float64(n))
}

func (t *Telemetry) ObserveMerge(action uplift.Action) {
	if t == nil {
		return
	}
	t.upliftMerges.WithLabelValues(string(action)).Inc()
}

// WriteTextfile writes the registry in the text exposition format for a node exporter
// textfile collector
func (t *Telemetry) WriteTextfile(filename string) error {
	if t == nil || filename == "" {
		return nil
	}
	return prometheus.WriteToTextfile(filename, t.Registry)
}
