package telemetry

import "math"

// BatteryLevel is the icon bucket for a charge percentage.
type BatteryLevel string

const (
	BatteryFull         BatteryLevel = "full"
	BatteryThreeQuarter BatteryLevel = "three-quarters"
	BatteryHalf         BatteryLevel = "half"
	BatteryQuarter      BatteryLevel = "quarter"
	BatteryEmpty        BatteryLevel = "empty"
)

// BatteryColor is the severity shown with the charge.
type BatteryColor string

const (
	BatteryOK       BatteryColor = "ok"
	BatteryWarning  BatteryColor = "warning"
	BatteryCritical BatteryColor = "critical"
)

// Battery is the decoded battery state. Percent is rounded and clamped to
// 0..100.
type Battery struct {
	Percent int          `json:"percent"`
	Voltage float64      `json:"voltage,omitempty"`
	Level   BatteryLevel `json:"level"`
	Color   BatteryColor `json:"color"`
}

// NewBattery rounds and classifies a raw percentage.
func NewBattery(percentage float64) Battery {
	if math.IsNaN(percentage) {
		percentage = 0
	}
	p := int(math.Round(percentage))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return Battery{Percent: p, Level: LevelFor(p), Color: ColorFor(p)}
}

// LevelFor maps a percentage to its icon bucket.
func LevelFor(p int) BatteryLevel {
	f := float64(p)
	switch {
	case f > 87.5:
		return BatteryFull
	case f > 62.5:
		return BatteryThreeQuarter
	case f > 37.5:
		return BatteryHalf
	case f > 12.5:
		return BatteryQuarter
	default:
		return BatteryEmpty
	}
}

// ColorFor maps a percentage to its severity.
func ColorFor(p int) BatteryColor {
	switch {
	case p > 20:
		return BatteryOK
	case p > 10:
		return BatteryWarning
	default:
		return BatteryCritical
	}
}
