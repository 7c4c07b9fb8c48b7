package sim

import (
	"fmt"
	"strings"
)

// Tier is a discrete speed level. Vehicles change tier one step at a time.
type Tier uint8

const (
	Stopped Tier = iota
	Slow
	Medium
	Fast
)

// TierCount is the number of tiers and the bound on per-tick retries.
const TierCount = 4

func (t Tier) String() string {
	switch t {
	case Stopped:
		return "stopped"
	case Slow:
		return "slow"
	case Medium:
		return "medium"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name for JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Lower returns the next slower tier. Stopped stays Stopped.
func (t Tier) Lower() Tier {
	if t <= Stopped {
		return Stopped
	}
	return t - 1
}

// Higher returns the next faster tier. Fast stays Fast.
func (t Tier) Higher() Tier {
	if t >= Fast {
		return Fast
	}
	return t + 1
}

// ParseTier reads a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stopped":
		return Stopped, nil
	case "slow":
		return Slow, nil
	case "medium":
		return Medium, nil
	case "fast":
		return Fast, nil
	}
	return Stopped, fmt.Errorf("sim: unknown tier %q", s)
}

func minTier(a, b Tier) Tier {
	if a < b {
		return a
	}
	return b
}

// TierTable maps each tier to its displacement per tick.
type TierTable [TierCount]float64

// Displacement returns how far a vehicle at t moves in one tick.
func (tt TierTable) Displacement(t Tier) float64 {
	if int(t) >= len(tt) {
		return 0
	}
	return tt[t]
}

// BrakingDistance is the distance covered while stepping down from t to
// Stopped one tier per tick, counting the tick still spent at t.
func (tt TierTable) BrakingDistance(t Tier) float64 {
	var d float64
	for k := Slow; k <= t && int(k) < len(tt); k++ {
		d += tt[k]
	}
	return d
}

// FittingTier returns the fastest tier at or below ceiling whose displacement
// does not exceed distance.
func (tt TierTable) FittingTier(ceiling Tier, distance float64) Tier {
	for t := ceiling; t > Stopped; t-- {
		if tt.Displacement(t) <= distance {
			return t
		}
	}
	return Stopped
}
