package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveWrite("cart", "replace", OutcomeOK)
	m.ObserveWrite("cart", "replace", OutcomeOK)
	m.ObserveWrite("cart", "append", OutcomeFailed)
	m.ObserveCoalesced("cart", 3)
	m.ObserveCoalesced("cart", 0)
	m.ObserveLoad("wishlist", "remote")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "replace", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "append", OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Coalesced.WithLabelValues("cart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues("wishlist", "remote")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveWrite("cart", "append", OutcomeOK)
	m.ObserveCoalesced("cart", 1)
	m.ObserveLoad("cart", "cache")
}

func TestNew_NilRegisterer(t *testing.T) {
	m := New(nil)
	m.ObserveWrite("cart", "delete", OutcomeStale)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "delete", OutcomeStale)))
}
