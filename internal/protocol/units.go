package protocol

import (
	"fmt"
	"math"
	"strings"
)

// TimeUnit is the unit all intervals of a protocol are expressed in.
type TimeUnit int

const (
	// UnitUnbound marks a condition not yet added to a protocol.
	UnitUnbound TimeUnit = iota
	// Volumes counts acquired volumes, 1-based and inclusive.
	Volumes
	// Milliseconds measures time from the start of the run.
	Milliseconds
)

func (u TimeUnit) String() string {
	switch u {
	case Volumes:
		return "Volumes"
	case Milliseconds:
		return "msec"
	case UnitUnbound:
		return "unbound"
	}
	return fmt.Sprintf("TimeUnit(%d)", int(u))
}

// ParseTimeUnit accepts the file tags "Volumes" and "msec" (case-insensitive).
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "volumes":
		return Volumes, nil
	case "msec":
		return Milliseconds, nil
	}
	return UnitUnbound, fmt.Errorf("%q: %w", s, ErrUnknownUnit)
}

// Rounding decides how millisecond values map onto whole volumes.
type Rounding int

const (
	// RoundNearest rounds to the nearest volume, halves away from zero.
	RoundNearest Rounding = iota
	// RoundFloor truncates towards negative infinity.
	RoundFloor
	// RoundReject fails with ErrInexactConversion for off-grid values.
	RoundReject
)

// gridTolerance absorbs floating point noise from ms = volume*tr products.
const gridTolerance = 1e-9

func (r Rounding) String() string {
	switch r {
	case RoundNearest:
		return "nearest"
	case RoundFloor:
		return "floor"
	case RoundReject:
		return "reject"
	}
	return fmt.Sprintf("Rounding(%d)", int(r))
}

// ParseRounding accepts "nearest", "floor" or "reject".
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "":
		return RoundNearest, nil
	case "floor":
		return RoundFloor, nil
	case "reject":
		return RoundReject, nil
	}
	return RoundNearest, fmt.Errorf("unknown rounding policy %q (valid: nearest, floor, reject)", s)
}

// Apply maps x onto an integer according to the policy.
func (r Rounding) Apply(x float64) (float64, error) {
	nearest := math.Round(x)
	switch r {
	case RoundFloor:
		if math.Abs(x-nearest) <= gridTolerance {
			return nearest, nil
		}
		return math.Floor(x), nil
	case RoundReject:
		if math.Abs(x-nearest) > gridTolerance {
			return 0, fmt.Errorf("%g is not on the volume grid: %w", x, ErrInexactConversion)
		}
	}
	return nearest, nil
}

// VolumesToMsec maps a 1-based inclusive volume interval onto the
// millisecond span [(start-1)*tr, end*tr].
func VolumesToMsec(iv Interval, tr float64) Interval {
	return Interval{
		Start:  (iv.Start - 1) * tr,
		End:    iv.End * tr,
		Weight: iv.Weight,
	}
}

// MsecToVolumes maps a millisecond interval onto 1-based inclusive volumes.
// A span shorter than one volume still occupies its onset volume.
func MsecToVolumes(iv Interval, tr float64, r Rounding) (Interval, error) {
	start, err := r.Apply(iv.Start / tr)
	if err != nil {
		return Interval{}, err
	}
	end, err := r.Apply(iv.End / tr)
	if err != nil {
		return Interval{}, err
	}
	start++
	if end < start {
		end = start
	}
	return Interval{Start: start, End: end, Weight: iv.Weight}, nil
}

// VolumeSpan returns the 1-based inclusive volume range covered by iv,
// which is expressed in unit. Volume-unit values are snapped with r as well,
// so fractional volume indices follow the same policy as converted ones.
func VolumeSpan(iv Interval, unit TimeUnit, tr float64, r Rounding) (first, last int, err error) {
	switch unit {
	case Volumes:
		s, err := r.Apply(iv.Start)
		if err != nil {
			return 0, 0, err
		}
		e, err := r.Apply(iv.End)
		if err != nil {
			return 0, 0, err
		}
		return int(s), int(e), nil
	case Milliseconds:
		if tr <= 0 {
			return 0, 0, ErrInvalidTR
		}
		v, err := MsecToVolumes(iv, tr, r)
		if err != nil {
			return 0, 0, err
		}
		return int(v.Start), int(v.End), nil
	}
	return 0, 0, fmt.Errorf("%s: %w", unit, ErrUnknownUnit)
}
