package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		units    string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.3694},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units default to mps", 10.0, "unknown", 10.0},
		{"walking speed 1.4 m/s to kmph", 1.4, KMPH, 5.04},
		{"walking speed 1.4 m/s to mph", 1.4, MPH, 3.13172},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPS, tt.units)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{MPS, true},
		{MPH, true},
		{KMPH, true},
		{KPH, true},
		{"invalid", false},
		{"", false},
		{"MPH", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.unit); got != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
	if got := ValidUnitsString(); got != "mps, kmph, kph, mph" {
		t.Errorf("ValidUnitsString() = %q", got)
	}
}

func TestNewSpeed(t *testing.T) {
	s := NewSpeed(Magnitude(3, 4, 0), KMPH)
	if s.Value != 18 || s.Units != KMPH {
		t.Errorf("NewSpeed = %+v, want 18 kmph", s)
	}
	if got := s.String(); got != "18.00 kmph" {
		t.Errorf("String() = %q", got)
	}

	s = NewSpeed(1.234, "furlongs")
	if s.Units != MPS || s.Value != 1.23 {
		t.Errorf("NewSpeed with bad unit = %+v, want 1.23 mps", s)
	}
}
