// Package metrics exposes terminal counters on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Scans        prometheus.Counter
	Redemptions  prometheus.Counter
	SyncRounds   prometheus.Counter
	SyncFailures prometheus.Counter
	MergedEvents prometheus.Counter
}

// New builds the counter set registered against reg. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Scans: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "turnstile_scans_total", Help: "Total badge scans resolved"},
		),
		Redemptions: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "turnstile_redemptions_total", Help: "Total badges redeemed locally"},
		),
		SyncRounds: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "turnstile_sync_rounds_total", Help: "Total completed sync rounds"},
		),
		SyncFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "turnstile_sync_failures_total", Help: "Total failed sync rounds"},
		),
		MergedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "turnstile_merged_events_total", Help: "Total redemption events merged from other terminals"},
		),
	}
	reg.MustRegister(m.Scans, m.Redemptions, m.SyncRounds, m.SyncFailures, m.MergedEvents)
	return m
}
