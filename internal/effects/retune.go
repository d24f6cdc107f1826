package effects

import (
	"math"
	"time"
)

// Bounds limits a retuned stage gain in dB
type Bounds struct {
	Floor   float64
	Ceiling float64
}

// TargetGain maps band energy in [0, 1] to a boost: silent bands get
// maxBoost, saturated bands get none. Non-finite energy counts as silence.
func TargetGain(energy, maxBoost float64, b Bounds) float64 {
	if math.IsNaN(energy) {
		energy = 0
	}
	energy = clamp(energy, 0, 1)
	return clamp(maxBoost*(1-energy), b.Floor, b.Ceiling)
}

// Glide moves current toward target with time constant tau over dt and
// clamps the result.
func Glide(current, target float64, dt, tau time.Duration, b Bounds) float64 {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		current = 0
	}
	if math.IsNaN(target) {
		target = current
	}
	if tau <= 0 {
		return clamp(target, b.Floor, b.Ceiling)
	}
	if dt < 0 {
		dt = 0
	}
	k := 1 - math.Exp(-dt.Seconds()/tau.Seconds())
	return clamp(current+(target-current)*k, b.Floor, b.Ceiling)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
