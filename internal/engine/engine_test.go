package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/admission"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/monitoring"
	"github.com/banshee-data/journey.report/internal/notify"
	"github.com/banshee-data/journey.report/internal/timeutil"
	"github.com/banshee-data/journey.report/internal/tripdetect"
)

const baseMs int64 = 1_700_000_000_000

type fakeStore struct {
	mu       sync.Mutex
	err      error
	journeys []db.Journey
	n        int
}

func (s *fakeStore) InsertJourney(_ context.Context, j *db.Journey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.n++
	j.ID = "journey-" + string(rune('0'+s.n))
	s.journeys = append(s.journeys, *j)
	return j.ID, nil
}

type emitted struct {
	name    string
	payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (n *fakeNotifier) Emit(name string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{name, payload})
}

func (n *fakeNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.name)
	}
	return out
}

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	if opts.Clock == nil {
		opts.Clock = timeutil.NewMockClock(time.UnixMilli(baseMs))
	}
	e := NewFromConfig(config.EmptyTuningConfig(), store, notifier, opts)
	return e, store, notifier
}

// feedWalkingTrip drives a full walking trip through the engine and returns
// the journey emitted by the finalizing sample.
func feedWalkingTrip(t *testing.T, e *Engine, startMs int64) *db.Journey {
	t.Helper()
	ctx := context.Background()
	ts := startMs
	for i := 0; i < 14; i++ {
		j, err := e.ProcessActivity(ctx, activity.NewEvent(activity.Walking, 80, ts))
		require.NoError(t, err)
		require.Nil(t, j)
		ts += 30_000
	}
	for i := 0; i < 10; i++ {
		j, err := e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, ts))
		require.NoError(t, err)
		require.Nil(t, j)
		ts += 30_000
	}
	j, err := e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, ts))
	require.NoError(t, err)
	return j
}

func TestStoppedEngineIsUnavailable(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})

	assert.False(t, e.Ready())
	_, err := e.ProcessActivity(context.Background(), activity.NewEvent(activity.Walking, 80, baseMs))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, e.Deliver(activity.NewEvent(activity.Walking, 80, baseMs)), admission.ErrUnavailable)
}

func TestDetectedTripIsStoredThenNotified(t *testing.T) {
	var callbacks []db.Journey
	e, store, notifier := newTestEngine(t, Options{
		OnTripDetected: func(j db.Journey) { callbacks = append(callbacks, j) },
	})
	e.Start()

	j := feedWalkingTrip(t, e, baseMs)
	require.NotNil(t, j)

	assert.Equal(t, "journey-1", j.ID)
	assert.Equal(t, activity.Marche, j.TransportType)
	assert.Equal(t, 7, j.DurationMinutes)
	assert.Equal(t, 0.58, j.DistanceKm)
	assert.Equal(t, db.DefaultDeparturePlace, j.DeparturePlace)
	assert.Equal(t, db.StatusPending, j.Status)
	assert.False(t, j.Simulated)

	require.Len(t, store.journeys, 1)
	assert.Equal(t, []string{notify.EventTripDetected}, notifier.names())
	require.Len(t, callbacks, 1)
	assert.Equal(t, j.ID, callbacks[0].ID)

	status := e.Status()
	assert.Equal(t, int64(1), status.TripsStored)
	assert.Equal(t, int64(25), status.SamplesProcessed)
	assert.True(t, status.IsHealthy)
	require.NotNil(t, status.LastTrip)
	assert.Equal(t, j.ID, status.LastTrip.ID)
	assert.Equal(t, tripdetect.StateIdle, status.Machine.State)
}

func TestStoreFailureSuppressesNotification(t *testing.T) {
	called := false
	e, store, notifier := newTestEngine(t, Options{
		OnTripDetected: func(db.Journey) { called = true },
	})
	store.err = errors.New("disk full")
	e.Start()

	ctx := context.Background()
	ts := baseMs
	for i := 0; i < 14; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.Walking, 80, ts))
		ts += 30_000
	}
	for i := 0; i < 10; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, ts))
		ts += 30_000
	}
	j, err := e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, ts))

	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
	assert.Nil(t, j)
	assert.Empty(t, notifier.names())
	assert.False(t, called)

	status := e.Status()
	assert.False(t, status.IsHealthy)
	assert.Contains(t, status.LastError, "disk full")
	// The machine has already reset; the trip is not retried.
	assert.Equal(t, tripdetect.StateIdle, status.Machine.State)
}

func TestDiscardedTripIsCounted(t *testing.T) {
	e, store, _ := newTestEngine(t, Options{})
	e.Start()

	ctx := context.Background()
	// Four walking samples 10s apart: the trip is well under two minutes.
	ts := baseMs
	for i := 0; i < 4; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.Walking, 80, ts))
		ts += 10_000
	}
	for i := 0; i < 11; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, ts))
		ts += 10_000
	}

	assert.Empty(t, store.journeys)
	assert.Equal(t, int64(1), e.Status().TripsDiscarded)
}

func TestStopResetsMachine(t *testing.T) {
	e, store, _ := newTestEngine(t, Options{})
	e.Start()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.InVehicle, 80, baseMs+int64(i)*30_000))
	}
	require.Equal(t, tripdetect.StateInTrip, e.Status().Machine.State)

	e.Stop()
	e.Stop()
	assert.False(t, e.Ready())
	assert.Equal(t, tripdetect.Snapshot{State: tripdetect.StateIdle}, e.Status().Machine)

	e.Start()
	e.Start()
	assert.True(t, e.Ready())
	assert.Empty(t, store.journeys)
}

func TestDebugModeUsesSimulatedSource(t *testing.T) {
	e, store, notifier := newTestEngine(t, Options{})
	e.Start()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = e.ProcessActivity(ctx, activity.NewEvent(activity.OnBicycle, 80, baseMs+int64(i)*30_000))
	}
	require.Equal(t, tripdetect.StateInTrip, e.Status().Machine.State)

	e.SetDebugMode(true)
	assert.True(t, e.DebugMode())
	assert.Equal(t, "simulated", e.Status().Source)
	assert.Equal(t, tripdetect.StateIdle, e.Status().Machine.State, "switching to the simulated source discards the trip")

	j, err := e.ProcessActivity(ctx, activity.NewEvent(activity.OnBicycle, 85, baseMs+10*60_000))
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.True(t, j.Simulated)
	assert.Equal(t, activity.Velo, j.TransportType)
	assert.Equal(t, 15, j.DurationMinutes)
	assert.Equal(t, 3.75, j.DistanceKm)
	assert.Equal(t, baseMs+10*60_000, j.TimeArrival)

	// Non-qualifying samples produce nothing and never reach the machine.
	j, err = e.ProcessActivity(ctx, activity.NewEvent(activity.Still, 90, baseMs+11*60_000))
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.Equal(t, 0, e.Status().Machine.ConsecutiveMoving)

	e.SetDebugMode(true) // unchanged: no second event
	e.SetDebugMode(false)
	assert.Equal(t, []string{notify.EventDebugMode, notify.EventTripDetected, notify.EventDebugMode}, notifier.names())
	assert.Len(t, store.journeys, 1)
}

func TestSimulateTripBypassesMachine(t *testing.T) {
	clk := timeutil.NewMockClock(time.UnixMilli(baseMs))
	e, store, notifier := newTestEngine(t, Options{Clock: clk})

	// Works while stopped.
	j, err := e.SimulateTrip(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.True(t, j.Simulated)
	assert.Equal(t, baseMs, j.TimeArrival)
	assert.Equal(t, baseMs-15*60_000, j.TimeDeparture)
	assert.Equal(t, activity.Voiture, j.TransportType)
	assert.Equal(t, 10.0, j.DistanceKm)
	assert.Len(t, store.journeys, 1)
	assert.Equal(t, []string{notify.EventTripDetected}, notifier.names())
	assert.Equal(t, tripdetect.StateIdle, e.Status().Machine.State)
}

func TestSampleRacingStopIsRejected(t *testing.T) {
	e, store, _ := newTestEngine(t, Options{})
	e.Start()

	// Hold the processing lock while the engine goes down, as Stop does
	// between clearing running and resetting the machine.
	e.processMu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := e.ProcessActivity(context.Background(), activity.NewEvent(activity.Walking, 80, baseMs))
		done <- err
	}()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.machine.Reset()
	e.processMu.Unlock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnavailable)
	case <-time.After(time.Second):
		t.Fatal("ProcessActivity did not return")
	}
	assert.Equal(t, 0, e.machine.Snapshot().ConsecutiveMoving, "no sample may reach the machine after stop")
	assert.Equal(t, int64(0), e.Status().SamplesProcessed)
	assert.Empty(t, store.journeys)
}

func TestSimulatedDurationHasTwoMinuteFloor(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	short := "30s"
	cfg.SimulatedDuration = &short
	clk := timeutil.NewMockClock(time.UnixMilli(baseMs))

	src := NewSimulatedTripSource(cfg, clk)
	assert.Equal(t, 2*time.Minute, src.Duration)

	trip := src.Trip()
	assert.Equal(t, 2, trip.DurationMinutes)
	assert.Less(t, trip.TimeDeparture, trip.TimeArrival)
}

func TestEngineAsAdmissionConsumer(t *testing.T) {
	e, store, _ := newTestEngine(t, Options{})
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	buf := admission.New(e, admission.Options{
		Capacity:      5,
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		Clock:         clk,
		StartConsumer: e.Start,
	})
	defer buf.Close()

	ts := baseMs
	for i := 0; i < 4; i++ {
		buf.Admit(activity.NewEvent(activity.Walking, 80, ts))
		ts += 30_000
	}
	assert.True(t, e.Ready(), "first buffered sample starts the engine")

	require.Eventually(t, func() bool { return clk.PendingWaiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return !buf.Stats().Replaying }, time.Second, time.Millisecond)

	status := e.Status()
	assert.Equal(t, tripdetect.StateInTrip, status.Machine.State)
	assert.Equal(t, baseMs, status.Machine.TripStart)
	assert.Empty(t, store.journeys)
}
