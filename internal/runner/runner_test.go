package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/backend"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/config"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/session"
)

type stubCamera struct{}

func (stubCamera) Capture(context.Context) ([]byte, error) { return []byte("frame"), nil }
func (stubCamera) Close() error                            { return nil }

type stubLocator struct {
	delay time.Duration
	calls atomic.Int32
}

func (l *stubLocator) Locate(context.Context, scan.Camera, int) (*models.Point, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return &models.Point{X: 0.5, Y: 0.5}, nil
}

func stations(n int) []session.Station {
	out := make([]session.Station, n)
	for i := range out {
		out[i] = session.Station{
			Name:      "cam",
			Threshold: 128,
			Connect:   func(context.Context) (scan.Camera, error) { return stubCamera{}, nil },
		}
	}
	return out
}

func scanConfig(end int) config.Scan {
	return config.Scan{
		Project:         "test",
		End:             end,
		ResponseTimeout: time.Second,
		ShutdownGrace:   time.Second,
	}
}

func TestRunOnce_PublishesObservationsAndReport(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	// 3 observations, one end-of-view marker, one report.
	for i := 0; i < 5; i++ {
		sp.ExpectSendMessageAndSucceed()
	}
	producer := kafka.NewProducerFromSarama(sp, "obs", "reports")

	r := New(scanConfig(3), Deps{
		Backend:  backend.NewMemory(10),
		Locator:  &stubLocator{},
		Stations: stations(1),
		Producer: producer,
	})

	report, err := r.RunOnce(context.Background(), models.ScanRequest{SessionID: "one"})
	require.NoError(t, err)
	assert.Equal(t, "one", report.SessionID)
	assert.Equal(t, models.ModeDirect, report.Mode)
	assert.Equal(t, 3, report.Units)

	require.NoError(t, producer.Close())
}

func TestRunOnce_RequestOverridesRange(t *testing.T) {
	start, end := 2, 6
	r := New(scanConfig(50), Deps{
		Backend:  backend.NewMemory(10),
		Locator:  &stubLocator{},
		Stations: stations(2),
	})

	report, err := r.RunOnce(context.Background(), models.ScanRequest{Start: &start, End: &end})
	require.NoError(t, err)
	assert.NotEmpty(t, report.SessionID, "a session id is generated")
	assert.Equal(t, models.ModeCoordinated, report.Mode)
	assert.Equal(t, 4, report.Units)
	for _, v := range report.Views {
		assert.Equal(t, 4, v.Successes)
	}
}

func TestRunOnce_InvalidSession(t *testing.T) {
	r := New(scanConfig(5), Deps{Backend: backend.NewMemory(10), Locator: &stubLocator{}})
	_, err := r.RunOnce(context.Background(), models.ScanRequest{})
	assert.Error(t, err)
}

type requestChan chan kafka.Request

func (c requestChan) Requests() <-chan kafka.Request { return c }

func TestListenAndRun_OneSessionAtATime(t *testing.T) {
	locator := &stubLocator{delay: 20 * time.Millisecond}
	requests := make(requestChan)
	r := New(scanConfig(50), Deps{
		Backend:  backend.NewMemory(50),
		Locator:  locator,
		Stations: stations(2),
		Requests: requests,
	})

	finished := make(chan struct{})
	go func() {
		r.ListenAndRun(context.Background())
		close(finished)
	}()

	requests <- kafka.Request{ScanRequest: models.ScanRequest{SessionID: "first", Action: models.CommandStart}}
	requests <- kafka.Request{ScanRequest: models.ScanRequest{SessionID: "second", Action: models.CommandStart}}

	require.Eventually(t, func() bool { return len(r.Active()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, r.Active())

	requests <- kafka.Request{ScanRequest: models.ScanRequest{SessionID: "first", Action: models.CommandStop}}
	close(requests)

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not finish after stop")
	}
	assert.Empty(t, r.Active())
	assert.Less(t, int(locator.calls.Load()), 2*50, "stopped before the end of the range")
}

func TestStart_RejectsWhileBusy(t *testing.T) {
	r := New(scanConfig(50), Deps{
		Backend:  backend.NewMemory(50),
		Locator:  &stubLocator{delay: 20 * time.Millisecond},
		Stations: stations(1),
	})

	id, err := r.Start(context.Background(), models.ScanRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = r.Start(context.Background(), models.ScanRequest{})
	assert.ErrorIs(t, err, ErrBusy)

	assert.True(t, r.Stop(""))
	r.wg.Wait()
	assert.Empty(t, r.Active())
}
