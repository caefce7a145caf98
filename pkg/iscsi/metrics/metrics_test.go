// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollector_SessionLifecycle(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.SessionOpened()
	if got := gaugeValue(t, c.sessionsOpen); got != 2 {
		t.Errorf("sessionsOpen = %v, want 2", got)
	}
	c.SessionClosed()
	if got := gaugeValue(t, c.sessionsOpen); got != 1 {
		t.Errorf("sessionsOpen = %v, want 1", got)
	}
}

func TestCollector_TaskOutcomes(t *testing.T) {
	c := New()
	c.TaskStarted()
	c.TaskFinished(nil)
	c.TaskStarted()
	c.TaskFinished(errors.New("boom"))

	var ok, fail dto.Metric
	if err := c.tasksTotal.WithLabelValues("ok").Write(&ok); err != nil {
		t.Fatalf("Write(ok) = %v", err)
	}
	if err := c.tasksTotal.WithLabelValues("error").Write(&fail); err != nil {
		t.Fatalf("Write(error) = %v", err)
	}
	if got := ok.GetCounter().GetValue(); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := fail.GetCounter().GetValue(); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := gaugeValue(t, c.tasksInFlight); got != 0 {
		t.Errorf("tasksInFlight = %v, want 0", got)
	}
}
