package viewshed

import "math"

// NorthUpTolerance is the half-width, in degrees, of the band around zero
// bearing that still counts as north-up.
const NorthUpTolerance = 5.0

// NormalizeBearing maps deg into (-180, 180].
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	switch {
	case b > 180:
		b -= 360
	case b <= -180:
		b += 360
	}
	return b
}

// IsNorthUp reports whether a map rotated by bearing reads as north-up.
func IsNorthUp(bearing float64) bool {
	return math.Abs(NormalizeBearing(bearing)) < NorthUpTolerance
}

// LocateAction is what the single locate button does in the current
// orientation.
type LocateAction int

const (
	// ActionLocate re-centres the map on the user.
	ActionLocate LocateAction = iota
	// ActionResetBearing rotates the map back to north without moving it.
	ActionResetBearing
)

func (a LocateAction) String() string {
	switch a {
	case ActionResetBearing:
		return "reset-bearing"
	default:
		return "locate"
	}
}

// LocateButtonAction picks the locate button behaviour for bearing.
func LocateButtonAction(bearing float64) LocateAction {
	if IsNorthUp(bearing) {
		return ActionLocate
	}
	return ActionResetBearing
}
