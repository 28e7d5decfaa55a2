package sweep

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
)

// InstrumentedSession wraps a *SweepSession the way the teacher's
// InstrumentedResolver wraps a StepResolver: same interface, metrics
// recorded around every call, registered against a caller-supplied
// Registerer rather than the global default.
type InstrumentedSession struct {
	session *SweepSession

	passesTotal      *prometheus.CounterVec
	satCallsTotal    *prometheus.CounterVec
	callSeconds      prometheus.Histogram
	classesRemaining prometheus.Gauge
}

// NewInstrumentedSession registers the sweep metrics against reg and
// returns a session that records them around every Sweep/CheckEquivalence
// call.
func NewInstrumentedSession(session *SweepSession, reg prometheus.Registerer) *InstrumentedSession {
	is := &InstrumentedSession{
		session: session,
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_passes_total",
			Help: "Number of Sweep calls executed, by stage.",
		}, []string{"stage"}),
		satCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_sat_calls_total",
			Help: "Number of SAT equivalence queries issued, by result.",
		}, []string{"result"}),
		callSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_call_seconds",
			Help:    "Wall-clock duration of a full Sweep call.",
			Buckets: prometheus.DefBuckets,
		}),
		classesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_classes_remaining",
			Help: "Number of unresolved candidate classes after the most recent sweep.",
		}),
	}
	reg.MustRegister(is.passesTotal, is.satCallsTotal, is.callSeconds, is.classesRemaining)
	return is
}

// Sweep records sweep_call_seconds and sweep_classes_remaining around a
// delegated SweepSession.Sweep call. sweep_passes_total{stage="sweep"} is
// incremented once per Sweep call, not once per prover pass, since
// SweepSession.Sweep does not expose a pass-by-pass callback; SAT queries
// made inside Sweep are not counted in sweep_sat_calls_total. A caller that
// needs exact per-pass granularity should read
// sweep.EquivalenceProver/InductiveSweeper directly and wrap each Run call.
func (is *InstrumentedSession) Sweep(ctx context.Context) error {
	start := time.Now()
	err := is.session.Sweep(ctx)
	is.callSeconds.Observe(time.Since(start).Seconds())
	is.passesTotal.WithLabelValues("sweep").Inc()
	is.classesRemaining.Set(float64(len(is.session.mgr.Classes())))
	return err
}

// CheckEquivalence delegates to the wrapped session and records the
// resulting SAT call outcome.
func (is *InstrumentedSession) CheckEquivalence(ctx context.Context, a, b aig.Fanin) (Result, error) {
	result, err := is.session.CheckEquivalence(ctx, a, b)
	if err != nil {
		is.satCallsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	is.satCallsTotal.WithLabelValues(result.Verdict.String()).Inc()
	return result, nil
}

// Store exposes the underlying AIG store, matching SweepSession's own
// field for callers that need to build more nodes between sweeps.
func (is *InstrumentedSession) Store() *aig.Store { return is.session.Store }
