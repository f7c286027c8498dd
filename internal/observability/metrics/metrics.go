// Package metrics exposes prometheus counters for the quota core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

const (
	ConsumeOutcomeMetered = "metered"
	ConsumeOutcomeFree    = "free"
	ConsumeOutcomeDenied  = "denied"

	ProvisionResultReady   = "ready"
	ProvisionResultCreated = "created"
	ProvisionResultFailed  = "failed"
)

type Metrics struct {
	consume         *prometheus.CounterVec
	provision       *prometheus.CounterVec
	sessionFallback *prometheus.CounterVec
	inviteRedeem    *prometheus.CounterVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		consume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_quota_consume_total",
			Help: "Quota consume attempts by outcome.",
		}, []string{"outcome"}),
		provision: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_shard_provision_total",
			Help: "Shard ensure calls by result.",
		}, []string{"result"}),
		sessionFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_session_fallback_total",
			Help: "Session operations that fell back from a backend tier.",
		}, []string{"backend"}),
		inviteRedeem: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_invite_redeem_total",
			Help: "Invite redemption attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncConsume(outcome string) {
	if m == nil {
		return
	}
	m.consume.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncProvision(result string) {
	if m == nil {
		return
	}
	m.provision.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSessionFallback(backend string) {
	if m == nil {
		return
	}
	m.sessionFallback.WithLabelValues(backend).Inc()
}

func (m *Metrics) IncInviteRedeem(result string) {
	if m == nil {
		return
	}
	m.inviteRedeem.WithLabelValues(result).Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)
