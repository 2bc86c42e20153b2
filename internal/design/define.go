package design

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/logging"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/protocol"
	"gonum.org/v1/gonum/stat"
)

// Name suffixes of the two columns built for a parametric condition.
const (
	MainSuffix       = " [Main]"
	ParametricSuffix = " [Parametric]"
)

type defineOptions struct {
	hrf      *hrf.Params
	rounding protocol.Rounding
	logger   *slog.Logger
	journal  *logging.Journal
}

// DefineOption configures DefinePredictors.
type DefineOption func(*defineOptions)

// WithHRF convolves every generated predictor with the given response.
func WithHRF(p hrf.Params) DefineOption {
	return func(o *defineOptions) { o.hrf = &p }
}

// WithRounding sets how millisecond intervals snap onto volumes.
func WithRounding(r protocol.Rounding) DefineOption {
	return func(o *defineOptions) { o.rounding = r }
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *slog.Logger) DefineOption {
	return func(o *defineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithJournal records each generated predictor in j.
func WithJournal(j *logging.Journal) DefineOption {
	return func(o *defineOptions) { o.journal = j }
}

// DefinePredictors expands every condition of prot into a boxcar task
// predictor of dataPoints samples, in condition order. Sample i is volume
// i+1; it is 1 when any interval of the condition covers that volume.
// Millisecond protocols are aligned to the volume grid with tr.
//
// A condition whose intervals carry more than one distinct weight yields
// two predictors, "<name> [Main]" and "<name> [Parametric]", the latter
// holding the mean-centred weight on active samples.
//
// Nothing is added unless every condition expands successfully.
func (m *Matrix) DefinePredictors(prot *protocol.Protocol, dataPoints int, tr float64, opts ...DefineOption) error {
	o := defineOptions{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	if dataPoints <= 0 {
		return fmt.Errorf("data points must be positive, got %d", dataPoints)
	}
	if tr <= 0 {
		return fmt.Errorf("tr %g: %w", tr, protocol.ErrInvalidTR)
	}
	if m.dataPoints != 0 && m.dataPoints != dataPoints {
		return fmt.Errorf("defining %d data points on a matrix of %d: %w",
			dataPoints, m.dataPoints, ErrLengthMismatch)
	}
	if o.hrf != nil {
		if err := o.hrf.Validate(); err != nil {
			return err
		}
	}

	var built []*predictor.Predictor
	for _, c := range prot.Conditions() {
		ps, err := expandCondition(c, prot.Unit(), dataPoints, tr, o.rounding)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if o.hrf != nil {
				if _, err := p.ConvolveWithHRF(tr, *o.hrf); err != nil {
					return fmt.Errorf("predictor %q: %w", p.Name, err)
				}
			}
			o.logger.Debug("defined predictor", "name", p.Name, "convolved", o.hrf != nil)
			o.journal.Record("define", map[string]any{
				"predictor": p.Name,
				"condition": c.Name,
				"intervals": len(c.Intervals),
				"convolved": o.hrf != nil,
			})
		}
		built = append(built, ps...)
	}

	for _, p := range built {
		if err := m.AddPredictor(p); err != nil {
			return err
		}
	}
	m.dataPoints = dataPoints
	m.TR = tr
	o.logger.Info("predictors defined", "conditions", prot.Len(), "predictors", len(built), "data_points", dataPoints)
	return nil
}

func expandCondition(c *protocol.Condition, unit protocol.TimeUnit, n int, tr float64, r protocol.Rounding) ([]*predictor.Predictor, error) {
	boxcar := make([]float64, n)
	var weights []float64
	parametric := distinctWeights(c) > 1
	if parametric {
		weights = make([]float64, n)
	}
	centre := meanUniqueWeight(c)

	for i, iv := range c.Intervals {
		first, last, err := protocol.VolumeSpan(iv, unit, tr, r)
		if err != nil {
			return nil, fmt.Errorf("condition %q interval %d: %w", c.Name, i+1, err)
		}
		if first < 1 || last > n {
			return nil, fmt.Errorf("condition %q interval %d covers volumes %d-%d of %d: %w",
				c.Name, i+1, first, last, n, ErrOutOfRange)
		}
		for v := first; v <= last; v++ {
			boxcar[v-1] = 1
			if parametric {
				weights[v-1] = iv.Weight - centre
			}
		}
	}

	if !parametric {
		return []*predictor.Predictor{{Name: c.Name, Values: boxcar, Colour: c.Colour}}, nil
	}
	return []*predictor.Predictor{
		{Name: c.Name + MainSuffix, Values: boxcar, Colour: c.Colour},
		{Name: c.Name + ParametricSuffix, Values: weights, Colour: c.Colour},
	}, nil
}

func uniqueWeights(c *protocol.Condition) []float64 {
	w := c.Weights()
	slices.Sort(w)
	return slices.Compact(w)
}

func distinctWeights(c *protocol.Condition) int {
	return len(uniqueWeights(c))
}

func meanUniqueWeight(c *protocol.Condition) float64 {
	u := uniqueWeights(c)
	if len(u) == 0 {
		return 0
	}
	return stat.Mean(u, nil)
}
