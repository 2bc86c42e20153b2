// Package hrf builds the canonical two-gamma hemodynamic response kernel
// used to convolve boxcar predictors.
package hrf

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Normalization selects how a sampled kernel is rescaled.
type Normalization int

const (
	// NormalizeNone keeps the raw density difference, in 1/s.
	NormalizeNone Normalization = iota
	// NormalizeSum scales the kernel to unit sum.
	NormalizeSum
	// NormalizePeak scales the kernel so its maximum is 1.
	NormalizePeak
)

func (n Normalization) String() string {
	switch n {
	case NormalizeNone:
		return "none"
	case NormalizeSum:
		return "sum"
	case NormalizePeak:
		return "peak"
	}
	return fmt.Sprintf("Normalization(%d)", int(n))
}

// ParseNormalization accepts "none", "sum" or "peak".
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return NormalizeNone, nil
	case "sum":
		return NormalizeSum, nil
	case "peak":
		return NormalizePeak, nil
	}
	return NormalizeNone, fmt.Errorf("unknown normalization %q (valid: none, sum, peak)", s)
}

// Params are the two-gamma model parameters. Times are in seconds.
type Params struct {
	PeakDelay            float64       `json:"peak_delay" yaml:"peak_delay"`
	UndershootDelay      float64       `json:"undershoot_delay" yaml:"undershoot_delay"`
	PeakDispersion       float64       `json:"peak_dispersion" yaml:"peak_dispersion"`
	UndershootDispersion float64       `json:"undershoot_dispersion" yaml:"undershoot_dispersion"`
	Ratio                float64       `json:"ratio" yaml:"ratio"`
	Onset                float64       `json:"onset" yaml:"onset"`
	Length               float64       `json:"length" yaml:"length"`
	Normalization        Normalization `json:"normalization" yaml:"-"`
}

// DefaultParams returns the canonical parameters: response peak at 6 s,
// undershoot at 16 s, unit dispersions, response/undershoot ratio 6, no
// onset shift and a 32 s kernel, without normalisation.
func DefaultParams() Params {
	return Params{
		PeakDelay:            6,
		UndershootDelay:      16,
		PeakDispersion:       1,
		UndershootDispersion: 1,
		Ratio:                6,
		Onset:                0,
		Length:               32,
		Normalization:        NormalizeNone,
	}
}

// Validate checks that the parameters describe a usable kernel.
func (p Params) Validate() error {
	switch {
	case p.PeakDelay <= 0 || p.UndershootDelay <= 0:
		return fmt.Errorf("hrf delays must be positive")
	case p.PeakDispersion <= 0 || p.UndershootDispersion <= 0:
		return fmt.Errorf("hrf dispersions must be positive")
	case p.Ratio <= 0:
		return fmt.Errorf("hrf ratio must be positive")
	case p.Length <= 0:
		return fmt.Errorf("hrf length must be positive")
	case p.Normalization < NormalizeNone || p.Normalization > NormalizePeak:
		return fmt.Errorf("unknown hrf normalization %d", p.Normalization)
	}
	return nil
}

// At evaluates the continuous response t seconds after an impulse:
// gamma(t-onset; a1, b1) - gamma(t-onset; a2, b2)/ratio, with shape
// a = delay/dispersion and rate b = 1/dispersion.
func (p Params) At(t float64) float64 {
	u := t - p.Onset
	if u <= 0 {
		return 0
	}
	peak := distuv.Gamma{Alpha: p.PeakDelay / p.PeakDispersion, Beta: 1 / p.PeakDispersion}
	under := distuv.Gamma{Alpha: p.UndershootDelay / p.UndershootDispersion, Beta: 1 / p.UndershootDispersion}
	return peak.Prob(u) - under.Prob(u)/p.Ratio
}

// Kernel samples the response every tr milliseconds. The kernel holds
// floor((Length + tr_s) / tr_s) samples, the first at t = 0.
func Kernel(tr float64, p Params) ([]float64, error) {
	if tr <= 0 {
		return nil, fmt.Errorf("repetition time must be positive, got %g", tr)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	trs := tr / 1000
	n := int(math.Floor((p.Length + trs) / trs))
	kernel := make([]float64, n)
	for i := range kernel {
		kernel[i] = p.At(float64(i) * trs)
	}

	switch p.Normalization {
	case NormalizeSum:
		if s := floats.Sum(kernel); s != 0 {
			floats.Scale(1/s, kernel)
		}
	case NormalizePeak:
		if m := floats.Max(kernel); m > 0 {
			floats.Scale(1/m, kernel)
		}
	}
	return kernel, nil
}

// Convolve returns the causal convolution of x with kernel truncated to
// len(x): out[i] = sum_k kernel[k] * x[i-k]. The tail past the end of x is
// dropped.
func Convolve(x, kernel []float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		var sum float64
		for k := 0; k < len(kernel) && k <= i; k++ {
			sum += kernel[k] * x[i-k]
		}
		out[i] = sum
	}
	return out
}
