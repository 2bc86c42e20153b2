// Package protocol models stimulation protocols: named experimental
// conditions, each a list of time intervals, sharing one declared time unit.
// It converts between volume and millisecond units and reads and writes the
// plain-text .prt format.
package protocol

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// DefaultExperiment is the experiment name of a protocol created without one.
const DefaultExperiment = "untitled"

// Display holds the presentation settings stored in a protocol header.
type Display struct {
	Background         colour.RGB
	Text               colour.RGB
	TimeCourse         colour.RGB
	TimeCourseThick    int
	ReferenceFunc      colour.RGB
	ReferenceFuncThick int
}

// DefaultDisplay returns the presentation settings of a new protocol.
func DefaultDisplay() Display {
	return Display{
		Background:         colour.Black,
		Text:               colour.White,
		TimeCourse:         colour.White,
		TimeCourseThick:    3,
		ReferenceFunc:      colour.RGB{0, 0, 80},
		ReferenceFuncThick: 3,
	}
}

// Protocol is an ordered collection of conditions in one time unit.
// A Protocol is not safe for concurrent mutation.
type Protocol struct {
	Experiment string
	Display    Display

	// ParametricWeights is set once any condition carries weights; intervals
	// are then written with a third column.
	ParametricWeights bool

	// Extra keeps unrecognised header fields in file order.
	Extra []textfmt.Field

	unit       TimeUnit
	conditions []*Condition
}

// New creates an empty protocol in the given unit.
func New(experiment string, unit TimeUnit) (*Protocol, error) {
	if unit != Volumes && unit != Milliseconds {
		return nil, fmt.Errorf("%s: %w", unit, ErrUnknownUnit)
	}
	if experiment == "" {
		experiment = DefaultExperiment
	}
	return &Protocol{
		Experiment: experiment,
		Display:    DefaultDisplay(),
		unit:       unit,
	}, nil
}

// Unit returns the time unit shared by every interval.
func (p *Protocol) Unit() TimeUnit {
	return p.unit
}

// FileVersion is 3 for parametric protocols and 2 otherwise.
func (p *Protocol) FileVersion() int {
	if p.ParametricWeights {
		return 3
	}
	return 2
}

// Conditions returns the conditions in protocol order. The returned slice is
// a copy; the conditions themselves are shared.
func (p *Protocol) Conditions() []*Condition {
	return slices.Clone(p.conditions)
}

// Len is the number of conditions.
func (p *Protocol) Len() int {
	return len(p.conditions)
}

// Condition returns the first condition with the given name.
func (p *Protocol) Condition(name string) (*Condition, bool) {
	for _, c := range p.conditions {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ConditionNames lists condition names in protocol order. Duplicates are kept.
func (p *Protocol) ConditionNames() []string {
	names := make([]string, len(p.conditions))
	for i, c := range p.conditions {
		names[i] = c.Name
	}
	return names
}

// AddCondition appends c and binds it to the protocol's unit. Names are not
// required to be unique. A condition already bound to a different unit is
// rejected with ErrUnitMismatch.
//
// Adding a weighted condition turns the protocol parametric; unweighted
// conditions are then written with weight 1.
func (p *Protocol) AddCondition(c *Condition) error {
	if c == nil {
		return fmt.Errorf("condition is nil")
	}
	if c.unit != UnitUnbound && c.unit != p.unit {
		return fmt.Errorf("adding %q (%s) to %s protocol: %w", c.Name, c.unit, p.unit, ErrUnitMismatch)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.IsParametric() {
		p.ParametricWeights = true
	}
	c.unit = p.unit
	p.conditions = append(p.conditions, c)
	return nil
}

// RemoveCondition removes the first condition with the given name and
// reports whether one was found.
func (p *Protocol) RemoveCondition(name string) bool {
	for i, c := range p.conditions {
		if c.Name == name {
			c.unit = UnitUnbound
			p.conditions = slices.Delete(p.conditions, i, i+1)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the protocol.
func (p *Protocol) Clone() *Protocol {
	out := &Protocol{
		Experiment:        p.Experiment,
		Display:           p.Display,
		ParametricWeights: p.ParametricWeights,
		Extra:             slices.Clone(p.Extra),
		unit:              p.unit,
		conditions:        make([]*Condition, len(p.conditions)),
	}
	for i, c := range p.conditions {
		out.conditions[i] = c.Clone()
	}
	return out
}

// Validate checks every condition's intervals.
func (p *Protocol) Validate() error {
	for _, c := range p.conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ConvertToMsec rewrites every interval from volumes to milliseconds using
// the repetition time tr (in milliseconds).
func (p *Protocol) ConvertToMsec(tr float64) error {
	if tr <= 0 {
		return ErrInvalidTR
	}
	if p.unit == Milliseconds {
		return fmt.Errorf("protocol is already in msec: %w", ErrInvalidState)
	}
	for _, c := range p.conditions {
		for i, iv := range c.Intervals {
			c.Intervals[i] = VolumesToMsec(iv, tr)
		}
	}
	p.setUnit(Milliseconds)
	return nil
}

// ConvertToVolumes rewrites every interval from milliseconds to volumes
// using tr (in milliseconds) and the rounding policy r. Nothing is modified
// when any interval fails to convert.
func (p *Protocol) ConvertToVolumes(tr float64, r Rounding) error {
	if tr <= 0 {
		return ErrInvalidTR
	}
	if p.unit == Volumes {
		return fmt.Errorf("protocol is already in volumes: %w", ErrInvalidState)
	}

	converted := make([][]Interval, len(p.conditions))
	for ci, c := range p.conditions {
		converted[ci] = make([]Interval, len(c.Intervals))
		for i, iv := range c.Intervals {
			v, err := MsecToVolumes(iv, tr, r)
			if err != nil {
				return fmt.Errorf("condition %q interval %d: %w", c.Name, i+1, err)
			}
			converted[ci][i] = v
		}
	}
	for ci, c := range p.conditions {
		c.Intervals = converted[ci]
	}
	p.setUnit(Volumes)
	return nil
}

func (p *Protocol) setUnit(u TimeUnit) {
	p.unit = u
	for _, c := range p.conditions {
		c.unit = u
	}
}

// Event is one interval tagged with its condition name.
type Event struct {
	Condition string  `json:"condition"`
	Onset     float64 `json:"onset"`
	Offset    float64 `json:"offset"`
	Weight    float64 `json:"weight"`
}

// Events flattens all intervals into a single list ordered by onset. Events
// with equal onsets keep protocol order.
func (p *Protocol) Events() []Event {
	var events []Event
	for _, c := range p.conditions {
		for _, iv := range c.Intervals {
			events = append(events, Event{
				Condition: c.Name,
				Onset:     iv.Start,
				Offset:    iv.End,
				Weight:    iv.Weight,
			})
		}
	}
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.Onset, b.Onset)
	})
	return events
}

// Duration returns the length of an interval in the protocol's unit. Volume
// intervals are inclusive, so [3, 5] lasts three volumes.
func (p *Protocol) Duration(iv Interval) float64 {
	if p.unit == Volumes {
		return iv.End - iv.Start + 1
	}
	return iv.End - iv.Start
}
