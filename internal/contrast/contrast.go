// Package contrast reads and writes contrast definitions (.ctr): named
// integer weight vectors over the columns of a design matrix.
package contrast

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Ext is the file extension of contrast definitions.
const Ext = ".ctr"

const (
	fileVersion = 1
	headerWidth = 22
)

const (
	keyFileVersion   = "FileVersion"
	keyNrOfContrasts = "NrOfContrasts"
	keyNrOfValues    = "NrOfValues"
)

var (
	// ErrLengthMismatch is returned when a contrast has a different number
	// of weights than the definition.
	ErrLengthMismatch = errors.New("contrast length mismatch")

	// ErrUnknownPredictor is returned when a weight names a column the
	// design does not have.
	ErrUnknownPredictor = errors.New("unknown predictor")
)

// Contrast is one named weight vector.
type Contrast struct {
	Name    string `json:"name"`
	Weights []int  `json:"weights"`
}

// FromWeights builds a contrast over the given column names. Columns not
// mentioned in weights get 0.
func FromWeights(name string, columns []string, weights map[string]int) (Contrast, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}
	vec := make([]int, len(columns))
	for col, w := range weights {
		i, ok := index[col]
		if !ok {
			return Contrast{}, fmt.Errorf("contrast %q: %q: %w", name, col, ErrUnknownPredictor)
		}
		vec[i] = w
	}
	return Contrast{Name: name, Weights: vec}, nil
}

// Definition is an ordered list of contrasts of equal length.
type Definition struct {
	contrasts []Contrast
	nValues   int
}

// New returns an empty definition.
func New() *Definition {
	return &Definition{}
}

// Add appends a contrast. The first contrast fixes the number of values.
func (d *Definition) Add(c Contrast) error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("contrast %q has no weights: %w", c.Name, ErrLengthMismatch)
	}
	if len(d.contrasts) > 0 && len(c.Weights) != d.nValues {
		return fmt.Errorf("contrast %q has %d values, but definition has %d: %w",
			c.Name, len(c.Weights), d.nValues, ErrLengthMismatch)
	}
	d.nValues = len(c.Weights)
	d.contrasts = append(d.contrasts, Contrast{Name: c.Name, Weights: append([]int(nil), c.Weights...)})
	return nil
}

// Len is the number of contrasts.
func (d *Definition) Len() int { return len(d.contrasts) }

// NrOfValues is the length of every contrast.
func (d *Definition) NrOfValues() int { return d.nValues }

// Contrasts returns the contrasts in order.
func (d *Definition) Contrasts() []Contrast {
	return append([]Contrast(nil), d.contrasts...)
}

// Names lists contrast names in order.
func (d *Definition) Names() []string {
	names := make([]string, len(d.contrasts))
	for i, c := range d.contrasts {
		names[i] = c.Name
	}
	return names
}

// Encode writes the definition in .ctr format: one row per value, one
// column per contrast.
func (d *Definition) Encode(w io.Writer) error {
	var b strings.Builder
	field := func(key string, value any) {
		b.WriteString(textfmt.FormatField(key, value, headerWidth))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	field(keyFileVersion, fileVersion)
	field(keyNrOfContrasts, len(d.contrasts))
	field(keyNrOfValues, d.nValues)

	if len(d.contrasts) > 0 {
		b.WriteByte('\n')
		b.WriteString(textfmt.FormatQuoted(d.Names()))
		b.WriteByte('\n')
		for i := 0; i < d.nValues; i++ {
			for j, c := range d.contrasts {
				if j > 0 {
					b.WriteByte(' ')
				}
				fmt.Fprintf(&b, "%3d", c.Weights[i])
			}
			b.WriteByte('\n')
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Decode reads a definition in .ctr format.
func Decode(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading contrasts: %w", err)
	}
	lines := textfmt.NewLines(string(data))

	version, err := lines.ExpectInt(keyFileVersion)
	if err != nil {
		return nil, err
	}
	if version != fileVersion {
		return nil, lines.Errorf("unsupported %s %d", keyFileVersion, version)
	}
	nContrasts, err := lines.ExpectInt(keyNrOfContrasts)
	if err != nil {
		return nil, err
	}
	nValues, err := lines.ExpectInt(keyNrOfValues)
	if err != nil {
		return nil, err
	}
	if nContrasts < 0 || nValues < 0 {
		return nil, lines.Errorf("negative contrast or value count")
	}

	d := New()
	if nContrasts == 0 {
		return d, lines.Done()
	}

	namesLine, err := lines.Expect("contrast names")
	if err != nil {
		return nil, err
	}
	names, err := textfmt.ParseQuoted(namesLine)
	if err != nil {
		return nil, lines.Errorf("%v", err)
	}
	if len(names) != nContrasts {
		return nil, lines.Errorf("expected %d contrast names, got %d", nContrasts, len(names))
	}

	weights := make([][]int, nContrasts)
	for j := range weights {
		weights[j] = make([]int, nValues)
	}
	for i := 0; i < nValues; i++ {
		line, err := lines.Expect("weight row")
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != nContrasts {
			return nil, lines.Errorf("weight row %d: expected %d values, got %d", i+1, nContrasts, len(fields))
		}
		for j, f := range fields {
			if weights[j][i], err = strconv.Atoi(f); err != nil {
				return nil, lines.Errorf("weight row %d: expected integer, got %q", i+1, f)
			}
		}
	}
	if err := lines.Done(); err != nil {
		return nil, err
	}

	for j, name := range names {
		if err := d.Add(Contrast{Name: name, Weights: weights[j]}); err != nil {
			return nil, textfmt.Errorf("%v", err)
		}
	}
	return d, nil
}

// Save writes the definition to path, adding the .ctr extension when
// missing. It returns the path written.
func (d *Definition) Save(path string) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return "", fmt.Errorf("encoding contrasts: %w", err)
	}
	if err := textfmt.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("saving contrasts: %w", err)
	}
	return path, nil
}

// Load reads a contrast definition from a .ctr file.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening contrasts: %w", err)
	}
	defer f.Close()

	d, err := Decode(f)
	if err != nil {
		return nil, textfmt.WithFile(err, path)
	}
	return d, nil
}
