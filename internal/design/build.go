package design

import (
	"fmt"
	"log/slog"

	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/logging"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

// BuildOptions selects the steps Build applies after defining the task
// predictors.
type BuildOptions struct {
	// Convolve applies HRF to every condition predictor.
	Convolve bool
	HRF      hrf.Params
	Rounding protocol.Rounding

	// Derivatives adds derivative confounds of orders 1..Derivatives.
	Derivatives int

	ZTransform  bool
	AddConstant bool

	Logger  *slog.Logger
	Journal *logging.Journal
}

// Build turns a protocol into a design matrix of dataPoints samples. The
// steps run in a fixed order: define (and convolve), derivatives,
// z-transform, constant.
func Build(prot *protocol.Protocol, dataPoints int, tr float64, opts BuildOptions) (*Matrix, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Derivatives < 0 || opts.Derivatives > 2 {
		return nil, fmt.Errorf("derivatives up to order %d: %w", opts.Derivatives, predictor.ErrInvalidOrder)
	}

	defineOpts := []DefineOption{
		WithRounding(opts.Rounding),
		WithLogger(logger),
		WithJournal(opts.Journal),
	}
	if opts.Convolve {
		defineOpts = append(defineOpts, WithHRF(opts.HRF))
		opts.Journal.Record("convolve", map[string]any{
			"peak_delay":       opts.HRF.PeakDelay,
			"undershoot_delay": opts.HRF.UndershootDelay,
			"length":           opts.HRF.Length,
			"normalization":    opts.HRF.Normalization.String(),
		})
	}

	m := New()
	if err := m.DefinePredictors(prot, dataPoints, tr, defineOpts...); err != nil {
		return nil, err
	}

	for order := 1; order <= opts.Derivatives; order++ {
		if err := m.AddDerivatives(order); err != nil {
			return nil, err
		}
		logger.Debug("added derivatives", "order", order)
		opts.Journal.Record("derivative", map[string]any{"order": order, "predictors": m.Len()})
	}

	if opts.ZTransform {
		if err := m.ZTransformPredictors(); err != nil {
			return nil, err
		}
		logger.Debug("z-transformed predictors")
		opts.Journal.Record("z-transform", map[string]any{"predictors": m.Len()})
	}

	if opts.AddConstant {
		if err := m.AddConstant(); err != nil {
			return nil, err
		}
		opts.Journal.Record("constant", map[string]any{"data_points": m.DataPoints()})
	}

	logger.Info("design built", "predictors", m.Len(), "first_confound", m.FirstConfound(), "constant", m.HasConstant())
	return m, nil
}
