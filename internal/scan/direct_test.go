package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

func TestRunDirect_EveryUnitIsObserved(t *testing.T) {
	const units = 10
	backend := newFakeBackend(100)
	locator := newFakeLocator(func(_, call int) (*models.Point, error) {
		if call == 4 {
			return nil, nil
		}
		return found(float64(call)/100, 0.5)
	})
	sink := newRecordSink()

	report, err := RunDirect(context.Background(), DirectConfig{
		UnitStart: 0,
		UnitEnd:   units,
		ViewID:    0,
	}, backend, &fakeCamera{view: 0}, locator, []Sink{sink})
	require.NoError(t, err)

	assert.Equal(t, models.ModeDirect, report.Mode)
	assert.Equal(t, units, report.Units)
	require.Len(t, report.Views, 1)
	stats := report.Views[0]
	assert.Equal(t, units, stats.Attempts)
	assert.Equal(t, units-1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.Zero(t, stats.Timeouts)

	obs := sink.observations(0)
	require.Len(t, obs, units)
	for i, o := range obs {
		assert.Equal(t, i, o.UnitID)
		assert.Equal(t, i != 4, o.Success)
	}
	assert.Equal(t, 1, sink.doneCount(0))

	events, violations, blackouts := backend.snapshot()
	assert.Zero(t, violations)
	assert.Equal(t, 2, blackouts)
	assert.Len(t, events, 2*units)
}

func TestRunDirect_SlowLocateNeverTimesOut(t *testing.T) {
	backend := newFakeBackend(10)
	locator := newFakeLocator(func(int, int) (*models.Point, error) {
		time.Sleep(40 * time.Millisecond)
		return found(0.5, 0.5)
	})

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 3}, backend, &fakeCamera{}, locator, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Views[0].Successes)
	assert.Zero(t, report.Views[0].Timeouts)
}

func TestRunDirect_NoDetectionsIsNoUsableData(t *testing.T) {
	backend := newFakeBackend(10)
	locator := newFakeLocator(func(int, int) (*models.Point, error) { return nil, nil })

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 5, MinSuccessRate: DefaultMinSuccessRate}, backend, &fakeCamera{}, locator, nil)
	require.ErrorIs(t, err, ErrNoUsableData)
	assert.True(t, report.Views[0].Degraded)
}

func TestRunDirect_PanickingLocatorBecomesError(t *testing.T) {
	backend := newFakeBackend(10)
	locator := newFakeLocator(func(_, call int) (*models.Point, error) {
		if call == 1 {
			panic("decoder exploded")
		}
		return found(0.5, 0.5)
	})
	sink := newRecordSink()

	var report *models.Report
	var err error
	require.NotPanics(t, func() {
		report, err = RunDirect(context.Background(), DirectConfig{UnitEnd: 3}, backend, &fakeCamera{}, locator, []Sink{sink})
	})
	require.NoError(t, err)
	stats := report.Views[0]
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.Successes)

	obs := sink.observations(0)
	require.Len(t, obs, 3)
	assert.Nil(t, obs[1].Point)

	events, violations, _ := backend.snapshot()
	assert.Zero(t, violations)
	assert.Len(t, events, 6, "the unit is switched off after the panic")
}

func TestRunDirect_BackendErrorIsFatal(t *testing.T) {
	backend := newFakeBackend(10)
	backend.failOn[1] = true
	locator := newFakeLocator(func(int, int) (*models.Point, error) { return found(0.5, 0.5) })

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 5}, backend, &fakeCamera{}, locator, nil)
	require.ErrorIs(t, err, ErrBackend)
	assert.Equal(t, 1, report.Units)
}

func TestRunDirect_ContextCancelStopsBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newFakeBackend(50)
	backend.afterOff = func(id int) {
		if id == 2 {
			cancel()
		}
	}
	locator := newFakeLocator(func(int, int) (*models.Point, error) { return found(0.5, 0.5) })

	report, err := RunDirect(ctx, DirectConfig{UnitEnd: 50}, backend, &fakeCamera{}, locator, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Units)
}

func TestRunDirect_MovementCheck(t *testing.T) {
	backend := newFakeBackend(10)
	locator := newFakeLocator(func(_, call int) (*models.Point, error) {
		if call == 3 {
			return found(0.55, 0.5)
		}
		return found(0.5, 0.5)
	})

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 3, MovementCheck: true}, backend, &fakeCamera{}, locator, nil)
	require.NoError(t, err)
	assert.True(t, report.Views[0].Moved)
	assert.Equal(t, 3, report.Views[0].Attempts)
}

func TestRunDirect_ClampsToBackendCount(t *testing.T) {
	backend := newFakeBackend(4)
	locator := newFakeLocator(func(int, int) (*models.Point, error) { return found(0.5, 0.5) })

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 100}, backend, &fakeCamera{}, locator, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.UnitEnd)
	assert.Equal(t, 4, report.Units)
}

func TestRunDirect_ZeroMinSuccessRateDisablesDegraded(t *testing.T) {
	backend := newFakeBackend(10)
	locator := newFakeLocator(func(_, call int) (*models.Point, error) {
		if call == 0 {
			return found(0.5, 0.5)
		}
		return nil, nil
	})

	report, err := RunDirect(context.Background(), DirectConfig{UnitEnd: 5}, backend, &fakeCamera{}, locator, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Views[0].Successes)
	assert.False(t, report.Views[0].Degraded)
}
