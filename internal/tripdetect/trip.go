package tripdetect

import (
	"time"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/journey.report/internal/activity"
)

// DetectedTrip is the output of a completed trip. Timestamps are epoch
// milliseconds.
type DetectedTrip struct {
	TimeDeparture    int64                  `json:"time_departure"`
	TimeArrival      int64                  `json:"time_arrival"`
	DurationMinutes  int                    `json:"duration_minutes"`
	DistanceKm       float64                `json:"distance_km"`
	TransportType    activity.TransportType `json:"transport_type"`
	DominantActivity activity.Type          `json:"dominant_activity"`
	ConfidenceAvg    int                    `json:"confidence_avg"`
}

// Departure returns the departure time in UTC.
func (t DetectedTrip) Departure() time.Time {
	return time.UnixMilli(t.TimeDeparture).UTC()
}

// Arrival returns the arrival time in UTC.
func (t DetectedTrip) Arrival() time.Time {
	return time.UnixMilli(t.TimeArrival).UTC()
}

// DistanceKm estimates the distance covered in durationMinutes at the
// average speed of mode, rounded to two decimals.
func DistanceKm(durationMinutes int, mode activity.Type) float64 {
	hours := float64(durationMinutes) / 60
	return scalar.Round(hours*activity.EstimatedSpeedKmh(mode), 2)
}

// DurationMinutes is the whole number of minutes between two epoch
// millisecond timestamps.
func DurationMinutes(departureMs, arrivalMs int64) int {
	return int((arrivalMs - departureMs) / int64(time.Minute/time.Millisecond))
}

// NewDetectedTrip builds a trip from its boundaries and dominant mode. The
// duration, distance and transport type are derived.
func NewDetectedTrip(departureMs, arrivalMs int64, mode activity.Type, confidenceAvg int) DetectedTrip {
	duration := DurationMinutes(departureMs, arrivalMs)
	transport, _ := mode.Transport()
	return DetectedTrip{
		TimeDeparture:    departureMs,
		TimeArrival:      arrivalMs,
		DurationMinutes:  duration,
		DistanceKm:       DistanceKm(duration, mode),
		TransportType:    transport,
		DominantActivity: mode,
		ConfidenceAvg:    confidenceAvg,
	}
}
