package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFill(t *testing.T) {
	m := New()
	m.ObserveFill(time.Now(), "")
	m.ObserveFill(time.Now(), "")
	m.ObserveFill(time.Now(), "bad_signature")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fills.WithLabelValues(ResultFilled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fills.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("bad_signature")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FillDuration))
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFill(time.Now(), "")
		m.ObserveMargin("maker", 1)
		m.ObserveCancel()
		m.ObserveNonceIncrement()
	})
}

func TestCountersRegistered(t *testing.T) {
	m := New()
	m.ObserveCancel()
	m.ObserveNonceIncrement()
	m.ObserveMargin("taker", 42)

	n, err := testutil.GatherAndCount(m.Registry, "irs_cancels_total", "irs_nonce_increments_total", "irs_margin_required")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}
