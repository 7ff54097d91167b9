/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package metrics provides the Prometheus surface for the session manager
// (spec.md §5's observability side): counts of established/failed
// sessions, rekeys, and a live gauge of active sessions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the four counters/gauges described in SPEC_FULL.md
// §4.9. It satisfies session.MetricsSink, so a *Collector can be passed
// directly to session.WithMetrics.
type Collector struct {
	established prometheus.Counter
	failed      *prometheus.CounterVec
	rekeys      prometheus.Counter
	active      prometheus.Gauge
}

// NewCollector registers its metrics against reg, which the caller owns.
// Passing a fresh *prometheus.Registry per manager (rather than the global
// default) lets multiple managers coexist in one process or test binary
// without a duplicate-registration panic.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		established: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitchat_sessions_established_total",
			Help: "Total number of sessions that reached the Established state.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitchat_sessions_failed_total",
			Help: "Total number of sessions evicted after a handshake failure, by cause.",
		}, []string{"cause"}),
		rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitchat_rekeys_total",
			Help: "Total number of rekeys initiated by the session manager.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitchat_sessions_active",
			Help: "Current number of sessions tracked by the manager, in any state.",
		}),
	}
	reg.MustRegister(c.established, c.failed, c.rekeys, c.active)
	return c
}

// SessionEstablished increments the established-session counter.
func (c *Collector) SessionEstablished() {
	c.established.Inc()
}

// SessionFailed increments the failed-session counter for cause.
func (c *Collector) SessionFailed(cause string) {
	c.failed.WithLabelValues(cause).Inc()
}

// Rekeyed increments the rekey counter.
func (c *Collector) Rekeyed() {
	c.rekeys.Inc()
}

// SessionsActive sets the active-session gauge to n.
func (c *Collector) SessionsActive(n int) {
	c.active.Set(float64(n))
}
