package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	before := testutil.ToFloat64(outcomes.WithLabelValues("7", "timeout"))
	RecordOutcome(7, "timeout")
	RecordOutcome(7, "timeout")
	assert.Equal(t, before+2, testutil.ToFloat64(outcomes.WithLabelValues("7", "timeout")))

	SessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(activeSessions))
	SessionFinished("direct", errors.New("no usable data"))
	assert.Equal(t, 0.0, testutil.ToFloat64(activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessions.WithLabelValues("direct", "error")))

	ObserveUnit("coordinated", 40*time.Millisecond)
	count, err := testutil.GatherAndCount(reg, metricPrefix+"unit_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
