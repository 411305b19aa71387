package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue gathers reg and returns the value of the counter named name
// whose labels match labels exactly.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			if assert.ObjectsAreEqual(labels, got) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))

	m.GateDecision("protected", "redirect")
	m.GateDecision("protected", "redirect")
	m.Completion("code", "success")
	m.RateLimited("callback")
	m.ServiceCall("get_user", nil, 15*time.Millisecond)
	m.ServiceCall("get_user", errors.New("boom"), 5*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "test_gate_decisions_total",
		map[string]string{"class": "protected", "action": "redirect"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_auth_completions_total",
		map[string]string{"method": "code", "outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_rate_limited_total",
		map[string]string{"route": "callback"}))

	families, err := reg.Gather()
	require.NoError(t, err)

	var histogram bool
	for _, f := range families {
		if f.GetName() == "test_auth_service_duration_seconds" {
			histogram = true
			assert.Len(t, f.GetMetric(), 2)
		}
	}
	assert.True(t, histogram, "expected auth service histogram to be registered")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.GateDecision("public", "continue")
		m.Completion("none", "failure")
		m.ServiceCall("verify", nil, time.Second)
		m.RateLimited("sso")
	})
}
