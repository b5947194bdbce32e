// metrics — счётчики Prometheus для решений edge-политики.
// Все методы безопасны на nil-получателе: тесты и сборки без метрик
// передают nil.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "edge"

type Edge struct {
	rateLimited    *prometheus.CounterVec
	threats        *prometheus.CounterVec
	redirects      *prometheus.CounterVec
	verifyFailures prometheus.Counter
}

// New создаёт и регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Edge {
	m := &Edge{
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter.",
		}, []string{"policy"}),
		threats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "API requests rejected by the input threat scan.",
		}, []string{"kind"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Route guard redirects.",
		}, []string{"reason"}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_verify_failures_total",
			Help:      "Session cookies that failed token verification.",
		}),
	}

	reg.MustRegister(m.rateLimited, m.threats, m.redirects, m.verifyFailures)

	return m
}

func (m *Edge) RateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

func (m *Edge) ThreatDetected(kind string) {
	if m == nil {
		return
	}
	m.threats.WithLabelValues(kind).Inc()
}

func (m *Edge) Redirected(reason string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(reason).Inc()
}

func (m *Edge) SessionVerifyFailed() {
	if m == nil {
		return
	}
	m.verifyFailures.Inc()
}
