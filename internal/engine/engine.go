// Package engine hosts the trip detection pipeline: it feeds admitted
// activity samples to the active TripSource, persists every detected trip
// and notifies listeners once the write has succeeded.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/admission"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/monitoring"
	"github.com/banshee-data/journey.report/internal/notify"
	"github.com/banshee-data/journey.report/internal/timeutil"
	"github.com/banshee-data/journey.report/internal/tripdetect"
)

// ErrUnavailable is returned by Deliver and ProcessActivity while the engine
// is stopped. It matches admission.ErrUnavailable.
var ErrUnavailable = fmt.Errorf("trip detection engine not running: %w", admission.ErrUnavailable)

// JourneyStore persists detected trips.
type JourneyStore interface {
	InsertJourney(ctx context.Context, j *db.Journey) (string, error)
}

// Notifier receives best-effort events after a trip is stored.
type Notifier interface {
	Emit(name string, payload any)
}

// Options configures an Engine.
type Options struct {
	DebugMode bool
	Clock     timeutil.Clock

	// OnTripDetected is called synchronously after a trip is stored and
	// notified. It must not call back into the Engine.
	OnTripDetected func(db.Journey)
}

// Engine is safe for concurrent use. Samples are processed one at a time.
type Engine struct {
	machine   *tripdetect.StateMachine
	simulated *SimulatedTripSource
	store     JourneyStore
	notifier  Notifier
	onTrip    func(db.Journey)
	clock     timeutil.Clock

	// processMu serialises everything that touches a TripSource.
	processMu sync.Mutex

	mu             sync.RWMutex
	running        bool
	debug          bool
	startedAt      time.Time
	samples        int64
	tripsStored    int64
	tripsDiscarded int64
	lastErr        error
	lastTrip       *db.Journey
}

// New creates a stopped Engine.
func New(machine *tripdetect.StateMachine, simulated *SimulatedTripSource, store JourneyStore, notifier Notifier, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if opts.OnTripDetected == nil {
		opts.OnTripDetected = func(db.Journey) {}
	}
	return &Engine{
		machine:   machine,
		simulated: simulated,
		store:     store,
		notifier:  notifier,
		onTrip:    opts.OnTripDetected,
		clock:     opts.Clock,
		debug:     opts.DebugMode,
	}
}

// NewFromConfig wires a StateMachine and SimulatedTripSource from cfg.
func NewFromConfig(cfg *config.TuningConfig, store JourneyStore, notifier Notifier, opts Options) *Engine {
	opts.DebugMode = opts.DebugMode || cfg.GetDebugMode()
	return New(
		tripdetect.New(tripdetect.ConfigFromTuning(cfg)),
		NewSimulatedTripSource(cfg, opts.Clock),
		store, notifier, opts,
	)
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, any) {}

// Start marks the engine ready to accept samples. It is idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.startedAt = e.clock.Now()
	monitoring.Logf("trip detection engine started (debug=%v)", e.debug)
}

// Stop marks the engine unavailable and force-resets the state machine,
// discarding any in-progress trip.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	e.processMu.Lock()
	e.machine.Reset()
	e.processMu.Unlock()

	if wasRunning {
		monitoring.Logf("trip detection engine stopped")
	}
}

// Ready reports whether the engine accepts samples.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Deliver implements admission.Consumer.
func (e *Engine) Deliver(ev activity.Event) error {
	_, err := e.ProcessActivity(context.Background(), ev)
	return err
}

// ProcessActivity feeds one sample to the active source. When a trip
// completes it is stored, then notified; the stored journey is returned.
// A store failure is returned and the trip is lost.
func (e *Engine) ProcessActivity(ctx context.Context, ev activity.Event) (*db.Journey, error) {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	// Checked under processMu so a sample cannot land after Stop's reset.
	if !e.Ready() {
		return nil, ErrUnavailable
	}

	debug := e.DebugMode()
	var source TripSource = e.machine
	if debug {
		source = e.simulated
	}
	wasEnded := !debug && e.machine.State() == tripdetect.StateEnded

	trip, ok := source.Process(ev)

	e.mu.Lock()
	e.samples++
	if wasEnded && !ok {
		e.tripsDiscarded++
	}
	e.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return e.record(ctx, trip, debug)
}

// SimulateTrip stores and notifies a canned trip, bypassing detection. It
// works whether or not the engine is running.
func (e *Engine) SimulateTrip(ctx context.Context) (*db.Journey, error) {
	e.processMu.Lock()
	defer e.processMu.Unlock()
	return e.record(ctx, e.simulated.Trip(), true)
}

func (e *Engine) record(ctx context.Context, trip tripdetect.DetectedTrip, simulated bool) (*db.Journey, error) {
	j := db.JourneyFromTrip(trip, simulated)
	if _, err := e.store.InsertJourney(ctx, j); err != nil {
		err = fmt.Errorf("failed to store detected trip: %w", err)
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.tripsStored++
	e.lastErr = nil
	stored := *j
	e.lastTrip = &stored
	e.mu.Unlock()

	monitoring.Logf("trip stored: id=%s %s %d min %.2f km (simulated=%v)",
		j.ID, j.TransportType, j.DurationMinutes, j.DistanceKm, simulated)

	e.notifier.Emit(notify.EventTripDetected, j)
	e.onTrip(*j)
	return j, nil
}

// SetDebugMode selects the simulated source (true) or the state machine.
// Switching to the simulated source discards any in-progress trip.
func (e *Engine) SetDebugMode(on bool) {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	e.mu.Lock()
	changed := e.debug != on
	e.debug = on
	e.mu.Unlock()

	if !changed {
		return
	}
	if on {
		e.machine.Reset()
	}
	monitoring.Logf("debug mode set to %v", on)
	e.notifier.Emit(notify.EventDebugMode, map[string]bool{"debug_mode": on})
}

// DebugMode reports whether the simulated source is active.
func (e *Engine) DebugMode() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.debug
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running          bool                `json:"running"`
	DebugMode        bool                `json:"debug_mode"`
	Source           string              `json:"source"`
	StartedAt        time.Time           `json:"started_at,omitempty"`
	SamplesProcessed int64               `json:"samples_processed"`
	TripsStored      int64               `json:"trips_stored"`
	TripsDiscarded   int64               `json:"trips_discarded"`
	LastError        string              `json:"last_error,omitempty"`
	LastTrip         *db.Journey         `json:"last_trip,omitempty"`
	IsHealthy        bool                `json:"is_healthy"`
	Machine          tripdetect.Snapshot `json:"machine"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.processMu.Lock()
	snap := e.machine.Snapshot()
	e.processMu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		Running:          e.running,
		DebugMode:        e.debug,
		Source:           "state_machine",
		StartedAt:        e.startedAt,
		SamplesProcessed: e.samples,
		TripsStored:      e.tripsStored,
		TripsDiscarded:   e.tripsDiscarded,
		IsHealthy:        e.lastErr == nil,
		Machine:          snap,
	}
	if e.debug {
		s.Source = "simulated"
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	if e.lastTrip != nil {
		t := *e.lastTrip
		s.LastTrip = &t
	}
	return s
}
