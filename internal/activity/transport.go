package activity

import "fmt"

// TransportType is the reduced vocabulary stored on journeys and sent to the
// backend. RUNNING collapses into Marche.
type TransportType string

const (
	Marche          TransportType = "marche"
	Velo            TransportType = "velo"
	Voiture         TransportType = "voiture"
	TransportCommun TransportType = "transport_commun"
)

// Transport returns the journey transport type for a moving activity. The
// second value is false for STILL and UNKNOWN.
func (t Type) Transport() (TransportType, bool) {
	switch t {
	case Walking, Running:
		return Marche, true
	case OnBicycle:
		return Velo, true
	case InVehicle:
		return Voiture, true
	}
	return "", false
}

// ParseTransportType validates a transport type string.
func ParseTransportType(s string) (TransportType, error) {
	switch tt := TransportType(s); tt {
	case Marche, Velo, Voiture, TransportCommun:
		return tt, nil
	}
	return "", fmt.Errorf("unknown transport type %q", s)
}

// speedKmh is the estimated average speed per activity (km/h).
var speedKmh = map[Type]float64{
	Walking:   5,
	Running:   10,
	OnBicycle: 15,
	InVehicle: 40,
	Still:     0,
	Unknown:   0,
}

// EstimatedSpeedKmh returns the average speed used to derive a trip distance.
func EstimatedSpeedKmh(t Type) float64 {
	return speedKmh[t]
}
