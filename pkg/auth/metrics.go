package auth

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "loginkit"

	labelMethod = "method"
	labelResult = "result"

	resultSuccess  = "success"
	resultError    = "error"
	resultCanceled = "canceled"
	resultMFA      = "mfa_required"
)

// Login methods.
const (
	MethodHosted    = "hosted"
	MethodSocial    = "social"
	MethodPasskey   = "passkey"
	MethodSilent    = "silent"
	MethodExchange  = "exchange"
	MethodMFA       = "mfa"
	MethodStepUp    = "step_up"
	MethodStartup   = "startup"
	MethodTenant    = "tenant_switch"
	MethodProactive = "proactive"
)

// Metrics are the Prometheus collectors of a Manager.
type Metrics struct {
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	RefreshJoins    prometheus.Counter
	PasskeyAttempts *prometheus.CounterVec
	Logouts         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Completed login attempts by method and result",
		}, []string{labelMethod, labelResult}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh network calls by result",
		}, []string{labelResult}),
		RefreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_refresh_joins_total",
			Help:      "Refresh requests that joined an in-flight refresh",
		}),
		PasskeyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "passkey_attempts_total",
			Help:      "Platform passkey assertion attempts by result",
		}, []string{labelResult}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logouts_total",
			Help:      "Completed logouts",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Logins, m.Refreshes, m.RefreshJoins, m.PasskeyAttempts, m.Logouts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("auth: register metrics: %w", err)
		}
	}
	return m, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case isMFA(err):
		return resultMFA
	case isCanceled(err):
		return resultCanceled
	default:
		return resultError
	}
}
