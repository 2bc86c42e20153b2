package design

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Ext is the file extension of single-study design matrices.
const Ext = ".sdm"

// FileVersion is the only .sdm version read and written.
const FileVersion = 1

const headerWidth = 24

// Header keys of the .sdm format.
const (
	keyFileVersion            = "FileVersion"
	keyNrOfPredictors         = "NrOfPredictors"
	keyNrOfDataPoints         = "NrOfDataPoints"
	keyIncludesConstant       = "IncludesConstant"
	keyFirstConfoundPredictor = "FirstConfoundPredictor"
	keyTR                     = "TR"
	keyRFXGLM                 = "RFX-GLM"
	keyZTransformation        = "zTransformation"
	keySeparatePredictors     = "SeparatePredictors"
)

func boolField(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Encode writes the matrix in .sdm format. Optional header keys are only
// written when set.
func (m *Matrix) Encode(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var b strings.Builder
	field := func(key string, value any) {
		b.WriteString(textfmt.FormatField(key, value, headerWidth))
		b.WriteByte('\n')
	}

	field(keyFileVersion, FileVersion)
	b.WriteByte('\n')
	field(keyNrOfPredictors, len(m.predictors))
	field(keyNrOfDataPoints, m.dataPoints)
	field(keyIncludesConstant, boolField(m.hasConstant))
	field(keyFirstConfoundPredictor, m.FirstConfound())
	if m.TR > 0 {
		field(keyTR, textfmt.FormatNumber(m.TR))
	}
	if m.RFXGLM {
		field(keyRFXGLM, 1)
	}
	if m.Transformation == TransformZ {
		field(keyZTransformation, 1)
	}
	if m.SeparatePredictors {
		field(keySeparatePredictors, 1)
	}
	for _, f := range m.Extra {
		field(f.Key, f.Value)
	}

	if len(m.predictors) > 0 {
		b.WriteByte('\n')
		colours := make([]string, len(m.predictors))
		for i, p := range m.predictors {
			colours[i] = p.Colour.String()
		}
		b.WriteString(strings.Join(colours, "   "))
		b.WriteByte('\n')
		b.WriteString(textfmt.FormatQuoted(m.Names()))
		b.WriteByte('\n')
		for i := 0; i < m.dataPoints; i++ {
			for _, p := range m.predictors {
				fmt.Fprintf(&b, " %11.6f", p.Values[i])
			}
			b.WriteByte('\n')
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type sdmHeader struct {
	version, nPredictors, nDataPoints, includesConstant, firstConfound int
	seen                                                               map[string]bool
}

// Decode reads a matrix in .sdm format. Data columns may be separated by
// any amount of whitespace. Structural problems are reported as
// *textfmt.ParseError values wrapping textfmt.ErrMalformedFile.
func Decode(r io.Reader) (*Matrix, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading design matrix: %w", err)
	}
	lines := textfmt.NewLines(string(data))

	m := New()
	h := sdmHeader{seen: make(map[string]bool)}
	for {
		line, ok := lines.Peek()
		if !ok || strings.HasPrefix(line, `"`) || !strings.Contains(line, ":") {
			break
		}
		lines.Next()
		key, value, _ := textfmt.SplitField(line)
		if err := m.decodeHeaderField(lines, &h, key, value); err != nil {
			return nil, err
		}
	}
	for _, key := range []string{keyFileVersion, keyNrOfPredictors, keyNrOfDataPoints} {
		if !h.seen[key] {
			return nil, textfmt.Errorf("missing %s", key)
		}
	}
	if h.version != FileVersion {
		return nil, textfmt.Errorf("unsupported %s %d", keyFileVersion, h.version)
	}
	if h.nPredictors < 0 || h.nDataPoints < 0 {
		return nil, textfmt.Errorf("negative predictor or data point count")
	}
	if !h.seen[keyFirstConfoundPredictor] {
		h.firstConfound = h.nPredictors - h.includesConstant + 1
	}
	if h.firstConfound < 1 || h.firstConfound > h.nPredictors-h.includesConstant+1 {
		return nil, textfmt.Errorf("%s %d out of range for %d predictors",
			keyFirstConfoundPredictor, h.firstConfound, h.nPredictors)
	}

	if h.nPredictors == 0 {
		if err := lines.Done(); err != nil {
			return nil, err
		}
		return m, nil
	}

	colours, err := decodeColours(lines, h.nPredictors)
	if err != nil {
		return nil, err
	}
	namesLine, err := lines.Expect("predictor names")
	if err != nil {
		return nil, err
	}
	names, err := textfmt.ParseQuoted(namesLine)
	if err != nil {
		return nil, lines.Errorf("%v", err)
	}
	if len(names) != h.nPredictors {
		return nil, lines.Errorf("expected %d predictor names, got %d", h.nPredictors, len(names))
	}

	columns := make([][]float64, h.nPredictors)
	for j := range columns {
		columns[j] = make([]float64, h.nDataPoints)
	}
	for i := 0; i < h.nDataPoints; i++ {
		line, err := lines.Expect("data row")
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != h.nPredictors {
			return nil, lines.Errorf("data row %d: expected %d values, got %d", i+1, h.nPredictors, len(fields))
		}
		for j, f := range fields {
			if columns[j][i], err = textfmt.ParseNumber(f); err != nil {
				return nil, lines.Errorf("data row %d: %v", i+1, err)
			}
		}
	}
	if err := lines.Done(); err != nil {
		return nil, err
	}

	cols := make([]*predictor.Predictor, h.nPredictors)
	for j := range columns {
		cols[j] = &predictor.Predictor{Name: names[j], Values: columns[j], Colour: colours[j]}
	}
	built, err := FromColumns(cols, h.firstConfound, h.includesConstant == 1)
	if err != nil {
		return nil, textfmt.Errorf("%v", err)
	}
	m.predictors, m.dataPoints, m.nTask, m.hasConstant = built.predictors, h.nDataPoints, built.nTask, built.hasConstant
	return m, nil
}

func (m *Matrix) decodeHeaderField(lines *textfmt.Lines, h *sdmHeader, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, lines.Errorf("%s: expected integer, got %q", key, value)
		}
		return n, nil
	}
	flag := func() (bool, error) {
		n, err := atoi()
		if err != nil {
			return false, err
		}
		if n != 0 && n != 1 {
			return false, lines.Errorf("%s: expected 0 or 1, got %d", key, n)
		}
		return n == 1, nil
	}

	h.seen[key] = true
	var err error
	switch key {
	case keyFileVersion:
		h.version, err = atoi()
	case keyNrOfPredictors:
		h.nPredictors, err = atoi()
	case keyNrOfDataPoints:
		h.nDataPoints, err = atoi()
	case keyIncludesConstant:
		var b bool
		b, err = flag()
		h.includesConstant = boolField(b)
	case keyFirstConfoundPredictor:
		h.firstConfound, err = atoi()
	case keyTR:
		if m.TR, err = textfmt.ParseNumber(value); err != nil {
			return lines.Errorf("%s: %v", key, err)
		}
	case keyRFXGLM:
		m.RFXGLM, err = flag()
	case keyZTransformation:
		var z bool
		if z, err = flag(); z {
			m.Transformation = TransformZ
		}
	case keySeparatePredictors:
		m.SeparatePredictors, err = flag()
	default:
		m.Extra = append(m.Extra, textfmt.Field{Key: key, Value: value})
	}
	return err
}

func decodeColours(lines *textfmt.Lines, n int) ([]colour.RGB, error) {
	line, err := lines.Expect("predictor colours")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) != 3*n {
		return nil, lines.Errorf("expected %d colour values, got %d", 3*n, len(fields))
	}
	colours := make([]colour.RGB, n)
	for i := range colours {
		if colours[i], err = colour.FromFields(fields[3*i : 3*i+3]); err != nil {
			return nil, lines.Errorf("predictor %d colour: %v", i+1, err)
		}
	}
	return colours, nil
}

// Save writes the matrix to path, adding the .sdm extension when missing.
// The file is replaced atomically. It returns the path written.
func (m *Matrix) Save(path string) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return "", fmt.Errorf("encoding design matrix: %w", err)
	}
	if err := textfmt.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("saving design matrix: %w", err)
	}
	return path, nil
}

// Load reads a design matrix from a .sdm file.
func Load(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening design matrix: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, textfmt.WithFile(err, path)
	}
	return m, nil
}
