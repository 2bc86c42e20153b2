// Package columnar exports design matrices as Arrow IPC files so they can
// be read by dataframe and analysis tools without parsing the .sdm text
// format. Each predictor becomes a float64 column; column colours and the
// matrix header travel as field and schema metadata.
package columnar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Ext is the conventional extension of exported matrices.
const Ext = ".arrow"

// Schema metadata keys.
const (
	MetaDataPoints         = "fmridesign.data_points"
	MetaFirstConfound      = "fmridesign.first_confound"
	MetaIncludesConstant   = "fmridesign.includes_constant"
	MetaTR                 = "fmridesign.tr"
	MetaRFXGLM             = "fmridesign.rfx_glm"
	MetaTransformation     = "fmridesign.transformation"
	MetaSeparatePredictors = "fmridesign.separate_predictors"
	MetaColour             = "fmridesign.colour"
)

// Schema builds the Arrow schema describing m.
func Schema(m *design.Matrix) *arrow.Schema {
	fields := make([]arrow.Field, 0, m.Len())
	for _, p := range m.Predictors() {
		fields = append(fields, arrow.Field{
			Name:     p.Name,
			Type:     arrow.PrimitiveTypes.Float64,
			Metadata: arrow.NewMetadata([]string{MetaColour}, []string{p.Colour.String()}),
		})
	}
	md := arrow.NewMetadata(
		[]string{
			MetaDataPoints, MetaFirstConfound, MetaIncludesConstant, MetaTR,
			MetaRFXGLM, MetaTransformation, MetaSeparatePredictors,
		},
		[]string{
			strconv.Itoa(m.DataPoints()),
			strconv.Itoa(m.FirstConfound()),
			strconv.FormatBool(m.HasConstant()),
			strconv.FormatFloat(m.TR, 'g', -1, 64),
			strconv.FormatBool(m.RFXGLM),
			m.Transformation.String(),
			strconv.FormatBool(m.SeparatePredictors),
		},
	)
	return arrow.NewSchema(fields, &md)
}

// WriteDesign writes m to w as an Arrow IPC file holding a single record
// batch. An empty matrix is written as a schema without batches. The file
// footer needs a seekable writer.
func WriteDesign(w io.WriteSeeker, m *design.Matrix) error {
	if err := m.Validate(); err != nil {
		return err
	}
	pool := memory.NewGoAllocator()
	schema := Schema(m)

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}

	if m.Len() > 0 {
		b := array.NewRecordBuilder(pool, schema)
		defer b.Release()
		for i, p := range m.Predictors() {
			b.Field(i).(*array.Float64Builder).AppendValues(p.Values, nil)
		}
		rec := b.NewRecord()
		defer rec.Release()
		if err := fw.Write(rec); err != nil {
			fw.Close()
			return fmt.Errorf("writing record batch: %w", err)
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return nil
}

// ReadDesign reads a matrix written by WriteDesign. Record batches are
// concatenated in file order.
func ReadDesign(r ipc.ReadAtSeeker) (*design.Matrix, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	defer fr.Close()

	schema := fr.Schema()
	meta := schema.Metadata()
	get := func(key string) (string, error) {
		i := meta.FindKey(key)
		if i < 0 {
			return "", fmt.Errorf("missing schema metadata %q", key)
		}
		return meta.Values()[i], nil
	}

	var h header
	if err := h.parse(get); err != nil {
		return nil, err
	}

	columns := make([][]float64, len(schema.Fields()))
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record batch %d: %w", i, err)
		}
		for j := range columns {
			col, ok := rec.Column(j).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("column %q is %s, want float64", schema.Field(j).Name, rec.Column(j).DataType())
			}
			if col.NullN() > 0 {
				return nil, fmt.Errorf("column %q contains nulls", schema.Field(j).Name)
			}
			columns[j] = append(columns[j], col.Float64Values()...)
		}
	}

	preds := make([]*predictor.Predictor, len(columns))
	for j, f := range schema.Fields() {
		if len(columns[j]) != h.dataPoints {
			return nil, fmt.Errorf("column %q has %d rows, want %d: %w", f.Name, len(columns[j]), h.dataPoints, design.ErrLengthMismatch)
		}
		c := colour.White
		if k := f.Metadata.FindKey(MetaColour); k >= 0 {
			if c, err = colour.Parse(f.Metadata.Values()[k]); err != nil {
				return nil, fmt.Errorf("column %q: %w", f.Name, err)
			}
		}
		values := columns[j]
		if values == nil {
			values = []float64{}
		}
		preds[j] = &predictor.Predictor{Name: f.Name, Values: values, Colour: c}
	}

	m, err := design.FromColumns(preds, h.firstConfound, h.includesConstant)
	if err != nil {
		return nil, err
	}
	m.TR = h.tr
	m.RFXGLM = h.rfxGLM
	m.Transformation = h.transformation
	m.SeparatePredictors = h.separatePredictors
	return m, nil
}

type header struct {
	dataPoints         int
	firstConfound      int
	includesConstant   bool
	tr                 float64
	rfxGLM             bool
	transformation     design.Transformation
	separatePredictors bool
}

func (h *header) parse(get func(string) (string, error)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{MetaDataPoints, &h.dataPoints},
		{MetaFirstConfound, &h.firstConfound},
	}
	for _, f := range ints {
		v, err := get(f.key)
		if err != nil {
			return err
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("schema metadata %q: %w", f.key, err)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{MetaIncludesConstant, &h.includesConstant},
		{MetaRFXGLM, &h.rfxGLM},
		{MetaSeparatePredictors, &h.separatePredictors},
	}
	for _, f := range bools {
		v, err := get(f.key)
		if err != nil {
			return err
		}
		if *f.dst, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("schema metadata %q: %w", f.key, err)
		}
	}

	v, err := get(MetaTR)
	if err != nil {
		return err
	}
	if h.tr, err = strconv.ParseFloat(v, 64); err != nil {
		return fmt.Errorf("schema metadata %q: %w", MetaTR, err)
	}
	v, err = get(MetaTransformation)
	if err != nil {
		return err
	}
	h.transformation, err = design.ParseTransformation(v)
	return err
}

// Export writes m to path, adding the .arrow extension when missing. The
// file is replaced atomically. It returns the path written.
func Export(path string, m *design.Matrix) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	f, err := os.CreateTemp(filepath.Dir(path), ".export-*"+Ext)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	tmp := f.Name()
	if err := WriteDesign(f, m); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming export file: %w", err)
	}
	return path, nil
}

// Import reads a matrix exported with Export.
func Import(path string) (*design.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()
	return ReadDesign(f)
}
