package featurestage

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records reader and writer outcomes.
type Metrics struct {
	loads        *prometheus.CounterVec
	writes       *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featurestage",
			Name:      "stage_loads_total",
			Help:      "Stage loads by variant and outcome.",
		}, []string{"variant", "outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featurestage",
			Name:      "stage_writes_total",
			Help:      "Stage writes by variant and outcome.",
		}, []string{"variant", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "featurestage",
			Name:      "stage_load_duration_seconds",
			Help:      "Time spent loading one stage.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"variant"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.loads, m.writes, m.loadDuration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeLoad(isModel bool, start time.Time, err error) {
	if m == nil {
		return
	}
	v := variant(isModel)
	m.loads.WithLabelValues(v, outcome(err)).Inc()
	m.loadDuration.WithLabelValues(v).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeWrite(isModel bool, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(variant(isModel), outcome(err)).Inc()
}

func variant(isModel bool) string {
	if isModel {
		return "model"
	}
	return "transformer"
}

var outcomeLabels = []struct {
	kind  error
	label string
}{
	{ErrMalformedDocument, "malformed_document"},
	{ErrClassNotFound, "class_not_found"},
	{ErrMissingConstructorArgument, "missing_constructor_argument"},
	{ErrUnknownTypeDescriptor, "unknown_type_descriptor"},
	{ErrArgumentDecode, "argument_decode_error"},
	{ErrArgumentEncode, "argument_encode_error"},
	{ErrModelInstantiation, "model_instantiation_error"},
	{ErrDanglingFeatureReference, "dangling_feature_reference"},
}

// outcome maps err to a low-cardinality label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	kind := errorKind(err)
	if kind == nil {
		kind = err
	}
	for _, o := range outcomeLabels {
		if errors.Is(kind, o.kind) {
			return o.label
		}
	}
	return "error"
}
