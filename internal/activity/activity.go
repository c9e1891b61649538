// Package activity defines the classified activity samples consumed by the
// trip detector and the reduced transport vocabulary written to journeys.
//
// Key types: Event, Type, TransportType.
// No SQL or I/O is allowed in this package.
package activity

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the activity class reported by the classifier.
type Type string

const (
	Walking   Type = "WALKING"
	Running   Type = "RUNNING"
	OnBicycle Type = "ON_BICYCLE"
	InVehicle Type = "IN_VEHICLE"
	Still     Type = "STILL"
	Unknown   Type = "UNKNOWN"
)

// Platform integer codes as emitted by the device classifier.
const (
	CodeInVehicle = 0
	CodeOnBicycle = 1
	CodeOnFoot    = 2
	CodeStill     = 3
	CodeUnknown   = 4
	CodeTilting   = 5
	CodeWalking   = 7
	CodeRunning   = 8
)

// IsMoving reports whether t is a movement class (anything other than STILL
// or UNKNOWN).
func (t Type) IsMoving() bool {
	switch t {
	case Walking, Running, OnBicycle, InVehicle:
		return true
	}
	return false
}

// ParseType maps a symbolic activity name to a Type. Matching is
// case-insensitive and accepts the ON_FOOT alias. Unrecognised names map to
// Unknown.
func ParseType(s string) Type {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WALKING", "ON_FOOT":
		return Walking
	case "RUNNING":
		return Running
	case "ON_BICYCLE", "CYCLING":
		return OnBicycle
	case "IN_VEHICLE", "DRIVING":
		return InVehicle
	case "STILL":
		return Still
	}
	if code, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return FromCode(code)
	}
	return Unknown
}

// FromCode maps a platform integer activity code to a Type.
func FromCode(code int) Type {
	switch code {
	case CodeInVehicle:
		return InVehicle
	case CodeOnBicycle:
		return OnBicycle
	case CodeOnFoot, CodeWalking:
		return Walking
	case CodeRunning:
		return Running
	case CodeStill:
		return Still
	default:
		return Unknown
	}
}

// Event is one classified sample. Timestamp is epoch milliseconds.
type Event struct {
	Type       Type  `json:"type"`
	Confidence int   `json:"confidence"`
	Timestamp  int64 `json:"timestamp"`
}

// NewEvent builds an Event, normalising the type and clamping confidence to
// the 0..100 range.
func NewEvent(t Type, confidence int, timestampMs int64) Event {
	switch t {
	case Walking, Running, OnBicycle, InVehicle, Still:
	default:
		t = Unknown
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return Event{Type: t, Confidence: confidence, Timestamp: timestampMs}
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%d%%)@%d", e.Type, e.Confidence, e.Timestamp)
}

// Qualifies reports whether the event is a moving sample at or above the
// confidence threshold.
func (e Event) Qualifies(threshold int) bool {
	return e.Type.IsMoving() && e.Confidence >= threshold
}
