// Package design assembles single-study design matrices: ordered predictor
// columns split into task predictors, confound predictors and an optional
// trailing constant. It expands stimulation protocols into boxcar
// predictors and reads and writes the plain-text .sdm format.
package design

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Transformation is the signal normalisation declared for the matrix.
type Transformation int

const (
	TransformNone Transformation = iota
	TransformZ
)

func (t Transformation) String() string {
	if t == TransformZ {
		return "z"
	}
	return "none"
}

// ParseTransformation accepts "none" or "z".
func ParseTransformation(s string) (Transformation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return TransformNone, nil
	case "z":
		return TransformZ, nil
	}
	return TransformNone, fmt.Errorf("unknown transformation %q (valid: none, z)", s)
}

// Matrix is a design matrix. Column order is task predictors, then
// confound predictors, then the constant if present. Every column has
// DataPoints samples. A Matrix is not safe for concurrent mutation.
type Matrix struct {
	// TR is the repetition time in milliseconds, 0 when unknown.
	TR                 float64
	RFXGLM             bool
	Transformation     Transformation
	SeparatePredictors bool

	// Extra keeps unrecognised header fields in file order.
	Extra []textfmt.Field

	predictors  []*predictor.Predictor
	dataPoints  int
	nTask       int
	hasConstant bool
}

// New returns an empty matrix.
func New() *Matrix {
	return &Matrix{}
}

// FromColumns builds a matrix from complete columns. firstConfound is the
// 1-based index of the first confound column; when hasConstant is set the
// last column must be all ones. The predictors are not copied.
func FromColumns(columns []*predictor.Predictor, firstConfound int, hasConstant bool) (*Matrix, error) {
	nConst := 0
	if hasConstant {
		nConst = 1
	}
	if len(columns) < nConst {
		return nil, fmt.Errorf("constant column declared for an empty matrix")
	}
	if firstConfound < 1 || firstConfound > len(columns)-nConst+1 {
		return nil, fmt.Errorf("first confound %d out of range for %d columns", firstConfound, len(columns))
	}
	m := &Matrix{
		predictors:  slices.Clone(columns),
		nTask:       firstConfound - 1,
		hasConstant: hasConstant,
	}
	if len(columns) > 0 {
		m.dataPoints = columns[0].Len()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DataPoints is the length of every column, 0 for an empty matrix.
func (m *Matrix) DataPoints() int {
	return m.dataPoints
}

// Len is the number of columns.
func (m *Matrix) Len() int {
	return len(m.predictors)
}

// Predictors returns every column in order. The slice is a copy; the
// predictors are shared.
func (m *Matrix) Predictors() []*predictor.Predictor {
	return slices.Clone(m.predictors)
}

// TaskPredictors returns the columns before the first confound.
func (m *Matrix) TaskPredictors() []*predictor.Predictor {
	return slices.Clone(m.predictors[:m.nTask])
}

// ConfoundPredictors returns the confound columns, excluding the constant.
func (m *Matrix) ConfoundPredictors() []*predictor.Predictor {
	end := len(m.predictors)
	if m.hasConstant {
		end--
	}
	return slices.Clone(m.predictors[m.nTask:end])
}

// HasConstant reports whether the last column is the constant.
func (m *Matrix) HasConstant() bool {
	return m.hasConstant
}

// FirstConfound is the 1-based column index of the first confound
// predictor, or Len()+1 when all columns are task predictors.
func (m *Matrix) FirstConfound() int {
	return m.nTask + 1
}

// Predictor returns the first column with the given name.
func (m *Matrix) Predictor(name string) (*predictor.Predictor, bool) {
	for _, p := range m.predictors {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Names lists column names in order.
func (m *Matrix) Names() []string {
	names := make([]string, len(m.predictors))
	for i, p := range m.predictors {
		names[i] = p.Name
	}
	return names
}

// Colours lists column colours in order.
func (m *Matrix) Colours() []colour.RGB {
	cs := make([]colour.RGB, len(m.predictors))
	for i, p := range m.predictors {
		cs[i] = p.Colour
	}
	return cs
}

// Data returns the matrix as DataPoints rows of Len values.
func (m *Matrix) Data() [][]float64 {
	rows := make([][]float64, m.dataPoints)
	for i := range rows {
		row := make([]float64, len(m.predictors))
		for j, p := range m.predictors {
			row[j] = p.Values[i]
		}
		rows[i] = row
	}
	return rows
}

func (m *Matrix) checkLength(p *predictor.Predictor) error {
	if p == nil {
		return fmt.Errorf("predictor is nil")
	}
	if p.Len() == 0 {
		return fmt.Errorf("predictor %q is empty: %w", p.Name, ErrLengthMismatch)
	}
	if m.dataPoints != 0 && p.Len() != m.dataPoints {
		return fmt.Errorf("predictor %q has %d data points, but design matrix has %d: %w",
			p.Name, p.Len(), m.dataPoints, ErrLengthMismatch)
	}
	return nil
}

// AddPredictor inserts a task predictor after the existing task predictors
// and before any confounds.
func (m *Matrix) AddPredictor(p *predictor.Predictor) error {
	if err := m.checkLength(p); err != nil {
		return err
	}
	m.predictors = slices.Insert(m.predictors, m.nTask, p)
	m.nTask++
	m.dataPoints = p.Len()
	return nil
}

// AddConfoundPredictor inserts a confound predictor after the existing
// confounds and before the constant.
func (m *Matrix) AddConfoundPredictor(p *predictor.Predictor) error {
	if err := m.checkLength(p); err != nil {
		return err
	}
	pos := len(m.predictors)
	if m.hasConstant {
		pos--
	}
	m.predictors = slices.Insert(m.predictors, pos, p)
	m.dataPoints = p.Len()
	return nil
}

// AddConstant appends an all-ones column named "Constant". The matrix must
// already have a length, and may hold only one constant.
func (m *Matrix) AddConstant() error {
	if m.hasConstant {
		return fmt.Errorf("constant column: %w", ErrDuplicateColumn)
	}
	if m.dataPoints == 0 {
		return ErrNoDataPoints
	}
	m.predictors = append(m.predictors, predictor.Constant(m.dataPoints))
	m.hasConstant = true
	return nil
}

// AddDerivatives appends the order-th derivative of every task predictor
// as a confound predictor.
func (m *Matrix) AddDerivatives(order int) error {
	derived := make([]*predictor.Predictor, 0, m.nTask)
	for _, p := range m.predictors[:m.nTask] {
		d, err := p.Derivative(order)
		if err != nil {
			return err
		}
		derived = append(derived, d)
	}
	for _, d := range derived {
		if err := m.AddConfoundPredictor(d); err != nil {
			return err
		}
	}
	return nil
}

// ZTransformPredictors z-transforms every column except the constant and
// declares the matrix z-transformed. No column changes if any is degenerate.
func (m *Matrix) ZTransformPredictors() error {
	transformed := make([][]float64, len(m.predictors))
	for i, p := range m.predictors {
		if m.hasConstant && i == len(m.predictors)-1 {
			continue
		}
		z, err := predictor.ZScore(p.Values)
		if err != nil {
			return fmt.Errorf("predictor %q: %w", p.Name, err)
		}
		transformed[i] = z
	}
	for i, z := range transformed {
		if z != nil {
			m.predictors[i].Values = z
		}
	}
	m.Transformation = TransformZ
	return nil
}

// Validate checks the column length and ordering invariants.
func (m *Matrix) Validate() error {
	for _, p := range m.predictors {
		if p.Len() != m.dataPoints {
			return fmt.Errorf("predictor %q has %d data points, want %d: %w",
				p.Name, p.Len(), m.dataPoints, ErrLengthMismatch)
		}
	}
	if m.hasConstant {
		last := m.predictors[len(m.predictors)-1]
		if last.Len() > 0 && (!last.IsConstant() || last.Values[0] != 1) {
			return fmt.Errorf("last column %q is not all ones", last.Name)
		}
	}
	return nil
}
