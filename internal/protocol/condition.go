package protocol

import (
	"fmt"
	"slices"

	"github.com/nvandessel/fmridesign/internal/colour"
)

// Interval is a [Start, End] stimulation period. Weight is the parametric
// weight of the interval and is 1 for plain protocols; build intervals with
// NewInterval rather than a literal so the weight is set.
type Interval struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Weight float64 `json:"weight"`
}

// NewInterval returns an unweighted interval.
func NewInterval(start, end float64) Interval {
	return Interval{Start: start, End: end, Weight: 1}
}

// NewWeightedInterval returns an interval carrying a parametric weight.
func NewWeightedInterval(start, end, weight float64) Interval {
	return Interval{Start: start, End: end, Weight: weight}
}

// Condition is a named set of stimulation intervals with a display colour.
// A condition is unit-agnostic until it is added to a protocol, after which
// it remembers that protocol's time unit.
type Condition struct {
	Name      string
	Intervals []Interval
	Colour    colour.RGB

	unit TimeUnit
}

// NewCondition validates the intervals and builds a condition. The interval
// slice is copied.
func NewCondition(name string, intervals []Interval, c colour.RGB) (*Condition, error) {
	cond := &Condition{
		Name:      name,
		Intervals: slices.Clone(intervals),
		Colour:    c,
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	return cond, nil
}

// Validate checks that every interval satisfies start <= end.
func (c *Condition) Validate() error {
	for i, iv := range c.Intervals {
		if iv.Start > iv.End {
			return fmt.Errorf("condition %q interval %d [%g, %g]: %w",
				c.Name, i+1, iv.Start, iv.End, ErrInvalidInterval)
		}
	}
	return nil
}

// Unit is the time unit of the owning protocol, or UnitUnbound.
func (c *Condition) Unit() TimeUnit {
	return c.unit
}

// IsParametric reports whether any interval carries a weight other than 1.
func (c *Condition) IsParametric() bool {
	for _, iv := range c.Intervals {
		if iv.Weight != 1 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that keeps the unit binding.
func (c *Condition) Clone() *Condition {
	return &Condition{
		Name:      c.Name,
		Intervals: slices.Clone(c.Intervals),
		Colour:    c.Colour,
		unit:      c.unit,
	}
}

// Combine returns a new condition named "a+b" holding the intervals of both
// operands sorted by start. Overlaps are kept as separate intervals. The
// colour comes from the receiver. Neither operand is modified.
func (c *Condition) Combine(other *Condition) (*Condition, error) {
	if c.unit != UnitUnbound && other.unit != UnitUnbound && c.unit != other.unit {
		return nil, fmt.Errorf("combining %q (%s) with %q (%s): %w",
			c.Name, c.unit, other.Name, other.unit, ErrUnitMismatch)
	}

	intervals := make([]Interval, 0, len(c.Intervals)+len(other.Intervals))
	intervals = append(intervals, c.Intervals...)
	intervals = append(intervals, other.Intervals...)
	slices.SortStableFunc(intervals, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	unit := c.unit
	if unit == UnitUnbound {
		unit = other.unit
	}
	return &Condition{
		Name:      c.Name + "+" + other.Name,
		Intervals: intervals,
		Colour:    c.Colour,
		unit:      unit,
	}, nil
}

// Onsets returns the start of every interval in order.
func (c *Condition) Onsets() []float64 {
	out := make([]float64, len(c.Intervals))
	for i, iv := range c.Intervals {
		out[i] = iv.Start
	}
	return out
}

// Weights returns the parametric weight of every interval in order.
func (c *Condition) Weights() []float64 {
	out := make([]float64, len(c.Intervals))
	for i, iv := range c.Intervals {
		out[i] = iv.Weight
	}
	return out
}
