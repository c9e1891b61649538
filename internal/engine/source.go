package engine

import (
	"time"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/timeutil"
	"github.com/banshee-data/journey.report/internal/tripdetect"
)

// TripSource turns activity samples into detected trips.
type TripSource interface {
	// Process consumes one sample and returns a trip when one completes.
	Process(activity.Event) (tripdetect.DetectedTrip, bool)
	// Reset discards any in-progress state.
	Reset()
}

var (
	_ TripSource = (*tripdetect.StateMachine)(nil)
	_ TripSource = (*SimulatedTripSource)(nil)
)

// SimulatedTripSource produces canned trips without running detection. Every
// qualifying sample yields a trip of a fixed duration ending at the sample's
// timestamp, in the sample's mode.
type SimulatedTripSource struct {
	Duration   time.Duration
	Threshold  int
	Confidence int
	Mode       activity.Type // used by Trip
	Clock      timeutil.Clock
}

// NewSimulatedTripSource builds a source from the tuning config.
func NewSimulatedTripSource(cfg *config.TuningConfig, clock timeutil.Clock) *SimulatedTripSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := cfg.GetSimulatedDuration()
	if d < config.MinTripMinutes*time.Minute {
		d = config.MinTripMinutes * time.Minute
	}
	return &SimulatedTripSource{
		Duration:   d,
		Threshold:  cfg.GetConfidenceThreshold(),
		Confidence: 90,
		Mode:       activity.InVehicle,
		Clock:      clock,
	}
}

// Process returns a canned trip for every qualifying sample.
func (s *SimulatedTripSource) Process(ev activity.Event) (tripdetect.DetectedTrip, bool) {
	if !ev.Qualifies(s.Threshold) {
		return tripdetect.DetectedTrip{}, false
	}
	return s.tripEndingAt(ev.Timestamp, ev.Type, ev.Confidence), true
}

// Reset is a no-op; the source keeps no state.
func (s *SimulatedTripSource) Reset() {}

// Trip returns a canned trip ending now.
func (s *SimulatedTripSource) Trip() tripdetect.DetectedTrip {
	return s.tripEndingAt(s.Clock.Now().UnixMilli(), s.Mode, s.Confidence)
}

func (s *SimulatedTripSource) tripEndingAt(arrivalMs int64, mode activity.Type, confidence int) tripdetect.DetectedTrip {
	departureMs := arrivalMs - s.Duration.Milliseconds()
	return tripdetect.NewDetectedTrip(departureMs, arrivalMs, mode, confidence)
}
