// Package predictor holds single design matrix columns and the transforms
// applied to them: hemodynamic convolution, z-transformation and
// finite-difference derivatives.
//
// Transforms named as verbs on *Predictor (ZTransform, ConvolveWithHRF)
// modify the predictor in place and return it for chaining. The package
// level functions (ZScore, Difference) are pure and return new slices.
package predictor

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/hrf"
	"gonum.org/v1/gonum/stat"
)

// ConstantName is the name of the all-ones intercept column.
const ConstantName = "Constant"

var (
	// ErrDegenerateSignal is returned when standardising a series with zero
	// variance.
	ErrDegenerateSignal = errors.New("degenerate signal")

	// ErrInvalidOrder is returned for a derivative order other than 1 or 2.
	ErrInvalidOrder = errors.New("derivative order must be 1 or 2")
)

// Predictor is a named time series with a display colour.
type Predictor struct {
	Name   string
	Values []float64
	Colour colour.RGB
}

// New builds a predictor from a copy of values.
func New(name string, values []float64, c colour.RGB) *Predictor {
	return &Predictor{Name: name, Values: slices.Clone(values), Colour: c}
}

// Constant returns an all-ones predictor of length n named "Constant".
func Constant(n int) *Predictor {
	values := make([]float64, n)
	for i := range values {
		values[i] = 1
	}
	return &Predictor{Name: ConstantName, Values: values, Colour: colour.White}
}

// Len is the number of samples.
func (p *Predictor) Len() int {
	return len(p.Values)
}

// Clone returns a deep copy.
func (p *Predictor) Clone() *Predictor {
	return New(p.Name, p.Values, p.Colour)
}

// IsConstant reports whether every sample equals the first.
func (p *Predictor) IsConstant() bool {
	for _, v := range p.Values {
		if v != p.Values[0] {
			return false
		}
	}
	return true
}

// ZTransform replaces the values with their z-scores.
func (p *Predictor) ZTransform() (*Predictor, error) {
	z, err := ZScore(p.Values)
	if err != nil {
		return p, fmt.Errorf("predictor %q: %w", p.Name, err)
	}
	p.Values = z
	return p, nil
}

// ConvolveWithHRF replaces the values with their convolution against the
// two-gamma kernel sampled every tr milliseconds. The length is unchanged.
func (p *Predictor) ConvolveWithHRF(tr float64, params hrf.Params) (*Predictor, error) {
	kernel, err := hrf.Kernel(tr, params)
	if err != nil {
		return p, fmt.Errorf("predictor %q: %w", p.Name, err)
	}
	p.Values = hrf.Convolve(p.Values, kernel)
	return p, nil
}

// Derivative returns a new predictor named "<name>_D<order>" holding the
// order-th finite difference of the values. The source is not modified.
func (p *Predictor) Derivative(order int) (*Predictor, error) {
	d, err := Difference(p.Values, order)
	if err != nil {
		return nil, fmt.Errorf("predictor %q: %w", p.Name, err)
	}
	return &Predictor{
		Name:   fmt.Sprintf("%s_D%d", p.Name, order),
		Values: d,
		Colour: p.Colour,
	}, nil
}

// ZScore returns (x - mean) / sd using the population standard deviation.
// A series with no variance yields ErrDegenerateSignal.
func ZScore(x []float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty series: %w", ErrDegenerateSignal)
	}
	mean, sd := stat.PopMeanStdDev(x, nil)
	if sd == 0 || sd <= 1e-12*math.Abs(mean) || math.IsNaN(sd) {
		return nil, fmt.Errorf("standard deviation is zero: %w", ErrDegenerateSignal)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / sd
	}
	return out, nil
}

// Difference applies the first difference order times. Each pass prepends a
// zero so the result keeps the length of x: d[0] = 0, d[i] = x[i] - x[i-1].
func Difference(x []float64, order int) ([]float64, error) {
	if order < 1 || order > 2 {
		return nil, fmt.Errorf("order %d: %w", order, ErrInvalidOrder)
	}
	out := slices.Clone(x)
	for range order {
		prev := 0.0
		for i, v := range out {
			if i == 0 {
				out[i] = 0
			} else {
				out[i] = v - prev
			}
			prev = v
		}
	}
	return out, nil
}
