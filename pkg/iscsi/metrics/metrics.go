// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exposes Pool activity as Prometheus metrics, grounded on
// the teacher's cmd/tcgdiskstat/metric.go (a slice of pre-built
// prometheus.Metric plus a no-op Describe). There the collector snapshot
// Devices once per process invocation; here the Pool runs for the life of
// a server, so the counters are live prometheus.Counter/Gauge values
// updated as sessions and tasks come and go instead of rebuilt each scrape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector implements pool.Metrics and is itself a prometheus.Collector,
// ready to hand to a prometheus.Registry.
type Collector struct {
	sessionsOpen  prometheus.Gauge
	sessionsTotal prometheus.Counter
	tasksInFlight prometheus.Gauge
	tasksTotal    *prometheus.CounterVec
}

// New builds a Collector. Register it with a prometheus.Registerer before
// use; it does not register itself.
func New() *Collector {
	return &Collector{
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iscsi_sessions_open",
			Help: "Number of iSCSI sessions currently logged in.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iscsi_sessions_opened_total",
			Help: "Total number of iSCSI sessions opened since start.",
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iscsi_tasks_in_flight",
			Help: "Number of FSM tasks currently executing against the pool.",
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iscsi_tasks_total",
			Help: "Total number of FSM tasks run, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sessionsOpen.Describe(ch)
	c.sessionsTotal.Describe(ch)
	c.tasksInFlight.Describe(ch)
	c.tasksTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessionsOpen.Collect(ch)
	c.sessionsTotal.Collect(ch)
	c.tasksInFlight.Collect(ch)
	c.tasksTotal.Collect(ch)
}

// SessionOpened implements pool.Metrics.
func (c *Collector) SessionOpened() {
	c.sessionsOpen.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed implements pool.Metrics.
func (c *Collector) SessionClosed() {
	c.sessionsOpen.Dec()
}

// TaskStarted implements pool.Metrics.
func (c *Collector) TaskStarted() {
	c.tasksInFlight.Inc()
}

// TaskFinished implements pool.Metrics.
func (c *Collector) TaskFinished(err error) {
	c.tasksInFlight.Dec()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.tasksTotal.WithLabelValues(outcome).Inc()
}
