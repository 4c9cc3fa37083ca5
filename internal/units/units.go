// Package units converts the scanner's odometry speed into display units.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Speed units accepted in the console config.
const (
	MPS  = "mps"
	KMPH = "kmph"
	KPH  = "kph"
	MPH  = "mph"
)

// ValidUnits lists every accepted unit.
var ValidUnits = []string{MPS, KMPH, KPH, MPH}

// IsValid reports whether unit is one of ValidUnits. Matching is exact.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ValidUnitsString is the list of accepted units for error messages.
func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed in meters per second to unit. Unknown units
// leave the value in m/s.
func ConvertSpeed(mps float64, unit string) float64 {
	switch unit {
	case KMPH, KPH:
		return mps * 3.6
	case MPH:
		return mps * 2.2369362920544
	default:
		return mps
	}
}

// Magnitude is the length of a velocity vector.
func Magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// Speed is a converted speed ready for display.
type Speed struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// NewSpeed converts mps to unit, rounded to two decimals.
func NewSpeed(mps float64, unit string) Speed {
	if !IsValid(unit) {
		unit = MPS
	}
	return Speed{Value: math.Round(ConvertSpeed(mps, unit)*100) / 100, Units: unit}
}

func (s Speed) String() string {
	return fmt.Sprintf("%.2f %s", s.Value, s.Units)
}
