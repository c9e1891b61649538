package tripdetect

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/monitoring"
)

// State is the trip lifecycle state of a StateMachine.
type State string

const (
	StateIdle   State = "IDLE"    // No trip, counting qualifying samples
	StateInTrip State = "IN_TRIP" // Trip in progress
	StateEnded  State = "ENDED"   // End detected, finalized on the next sample
)

// Config holds the detection thresholds.
type Config struct {
	ConfidenceThreshold int // Minimum confidence for a qualifying sample
	StartCount          int // Consecutive qualifying samples to start a trip (N_start)
	EndCount            int // STILL samples past the pause tolerance to end a trip (N_end)
	PauseTolerance      int // STILL samples absorbed as a short stop
	MinDurationMinutes  int // Trips shorter than this are discarded
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		StartCount:          cfg.GetStartCount(),
		EndCount:            cfg.GetEndCount(),
		PauseTolerance:      cfg.GetPauseTolerance(),
		MinDurationMinutes:  cfg.GetMinDurationMinutes(),
	}
}

// StateMachine is the sole authority turning samples into DetectedTrips.
type StateMachine struct {
	cfg   Config
	state State

	// IDLE
	consecutiveMoving int
	lookback          []activity.Event // qualifying samples of the current run, cap StartCount

	// IN_TRIP / ENDED
	tripStart     int64
	tripEnd       int64
	tripLog       []activity.Event // moving samples only
	stillCount    int              // consecutive STILL samples, pause tolerance included
	firstStill    int64
	hasFirstStill bool
}

// New returns a StateMachine in IDLE.
func New(cfg Config) *StateMachine {
	if cfg.StartCount < 1 {
		cfg.StartCount = 1
	}
	if cfg.EndCount < 1 {
		cfg.EndCount = 1
	}
	if cfg.PauseTolerance < 0 {
		cfg.PauseTolerance = 0
	}
	if cfg.MinDurationMinutes < config.MinTripMinutes {
		cfg.MinDurationMinutes = config.MinTripMinutes
	}
	m := &StateMachine{cfg: cfg}
	m.Reset()
	return m
}

// Config returns the thresholds in use.
func (m *StateMachine) Config() Config { return m.cfg }

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// Reset forces the machine back to IDLE, discarding any in-progress trip
// without emission. It is idempotent.
func (m *StateMachine) Reset() {
	m.state = StateIdle
	m.consecutiveMoving = 0
	m.lookback = make([]activity.Event, 0, m.cfg.StartCount)
	m.tripStart = 0
	m.tripEnd = 0
	m.tripLog = nil
	m.stillCount = 0
	m.firstStill = 0
	m.hasFirstStill = false
}

// Process consumes one sample. It returns the finalized trip and true when
// the sample moves the machine out of ENDED and the trip passes the
// finalization checks.
func (m *StateMachine) Process(ev activity.Event) (DetectedTrip, bool) {
	switch m.state {
	case StateInTrip:
		m.observeInTrip(ev)
		return DetectedTrip{}, false

	case StateEnded:
		trip, ok := m.finalize()
		m.Reset()
		// The sample that closes the previous trip may open the next one.
		if ev.Qualifies(m.cfg.ConfidenceThreshold) {
			m.observeIdle(ev)
		}
		return trip, ok

	default:
		m.observeIdle(ev)
		return DetectedTrip{}, false
	}
}

func (m *StateMachine) observeIdle(ev activity.Event) {
	if !ev.Qualifies(m.cfg.ConfidenceThreshold) {
		m.consecutiveMoving = 0
		m.lookback = m.lookback[:0]
		return
	}

	if len(m.lookback) == m.cfg.StartCount {
		m.lookback = append(m.lookback[:0], m.lookback[1:]...)
	}
	m.lookback = append(m.lookback, ev)
	m.consecutiveMoving++

	if m.consecutiveMoving < m.cfg.StartCount {
		return
	}

	// Promote IDLE → IN_TRIP, backdated to the first sample of the run.
	m.state = StateInTrip
	m.tripStart = m.lookback[0].Timestamp
	m.tripLog = append(make([]activity.Event, 0, 2*m.cfg.StartCount), m.lookback...)
	m.consecutiveMoving = 0
	m.lookback = m.lookback[:0]
	m.stillCount = 0
	m.hasFirstStill = false
}

func (m *StateMachine) observeInTrip(ev activity.Event) {
	switch {
	case ev.Qualifies(m.cfg.ConfidenceThreshold):
		m.tripLog = append(m.tripLog, ev)
		m.stillCount = 0
		m.hasFirstStill = false

	case ev.Type == activity.Still && ev.Confidence >= m.cfg.ConfidenceThreshold:
		m.stillCount++
		if !m.hasFirstStill {
			m.firstStill = ev.Timestamp
			m.hasFirstStill = true
		}
		if m.stillCount-m.cfg.PauseTolerance >= m.cfg.EndCount {
			m.state = StateEnded
			m.tripEnd = m.firstStill
		}

	default:
		// Low-confidence and UNKNOWN samples neither extend nor end a trip.
	}
}

func (m *StateMachine) finalize() (DetectedTrip, bool) {
	if len(m.tripLog) == 0 {
		monitoring.Warnf("trip discarded: no movement recorded (start=%d end=%d)", m.tripStart, m.tripEnd)
		return DetectedTrip{}, false
	}

	duration := DurationMinutes(m.tripStart, m.tripEnd)
	if duration < m.cfg.MinDurationMinutes {
		monitoring.Warnf("trip discarded: duration %d min below minimum %d (start=%d end=%d)",
			duration, m.cfg.MinDurationMinutes, m.tripStart, m.tripEnd)
		return DetectedTrip{}, false
	}

	confidences := make([]float64, len(m.tripLog))
	for i, ev := range m.tripLog {
		confidences[i] = float64(ev.Confidence)
	}
	avg := int(stat.Mean(confidences, nil))

	return NewDetectedTrip(m.tripStart, m.tripEnd, DominantMode(m.tripLog), avg), true
}

// DominantMode returns the moving activity type with the highest count in
// log. Ties go to the type that appeared first. Returns Unknown when log
// holds no moving samples.
func DominantMode(log []activity.Event) activity.Type {
	counts := make(map[activity.Type]int)
	var order []activity.Type
	for _, ev := range log {
		if !ev.Type.IsMoving() {
			continue
		}
		if counts[ev.Type] == 0 {
			order = append(order, ev.Type)
		}
		counts[ev.Type]++
	}

	best := activity.Unknown
	bestCount := 0
	for _, t := range order {
		if counts[t] > bestCount {
			best = t
			bestCount = counts[t]
		}
	}
	return best
}

// Snapshot is a read-only view of the machine's counters.
type Snapshot struct {
	State              State `json:"state"`
	ConsecutiveMoving  int   `json:"consecutive_moving"`
	LookbackSize       int   `json:"lookback_size"`
	TripStart          int64 `json:"trip_start,omitempty"`
	TripEnd            int64 `json:"trip_end,omitempty"`
	TripLogSize        int   `json:"trip_log_size"`
	PauseCount         int   `json:"pause_count"`
	StillPastTolerance int   `json:"still_past_tolerance"`
	FirstStill         int64 `json:"first_still,omitempty"`
}

// Snapshot returns the current counters.
func (m *StateMachine) Snapshot() Snapshot {
	s := Snapshot{
		State:             m.state,
		ConsecutiveMoving: m.consecutiveMoving,
		LookbackSize:      len(m.lookback),
		TripStart:         m.tripStart,
		TripEnd:           m.tripEnd,
		TripLogSize:       len(m.tripLog),
		PauseCount:        min(m.stillCount, m.cfg.PauseTolerance),
	}
	if m.stillCount > m.cfg.PauseTolerance {
		s.StillPastTolerance = m.stillCount - m.cfg.PauseTolerance
	}
	if m.hasFirstStill {
		s.FirstStill = m.firstStill
	}
	return s
}
