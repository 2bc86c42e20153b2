package protocol

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Ext is the file extension of stimulation protocols.
const Ext = ".prt"

const headerWidth = 20

// Header keys of the .prt format.
const (
	keyFileVersion        = "FileVersion"
	keyResolutionOfTime   = "ResolutionOfTime"
	keyExperiment         = "Experiment"
	keyBackgroundColor    = "BackgroundColor"
	keyTextColor          = "TextColor"
	keyTimeCourseColor    = "TimeCourseColor"
	keyTimeCourseThick    = "TimeCourseThick"
	keyReferenceFuncColor = "ReferenceFuncColor"
	keyReferenceFuncThick = "ReferenceFuncThick"
	keyParametricWeights  = "ParametricWeights"
	keyNrOfConditions     = "NrOfConditions"
	keyColor              = "Color"
)

// Encode writes the protocol in .prt format.
func (p *Protocol) Encode(w io.Writer) error {
	var b strings.Builder
	field := func(key string, value any) {
		b.WriteString(textfmt.FormatField(key, value, headerWidth))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	field(keyFileVersion, p.FileVersion())
	b.WriteByte('\n')
	field(keyResolutionOfTime, p.unit)
	b.WriteByte('\n')
	field(keyExperiment, p.Experiment)
	b.WriteByte('\n')
	field(keyBackgroundColor, p.Display.Background)
	field(keyTextColor, p.Display.Text)
	field(keyTimeCourseColor, p.Display.TimeCourse)
	field(keyTimeCourseThick, p.Display.TimeCourseThick)
	field(keyReferenceFuncColor, p.Display.ReferenceFunc)
	field(keyReferenceFuncThick, p.Display.ReferenceFuncThick)
	b.WriteByte('\n')
	if p.ParametricWeights {
		field(keyParametricWeights, 1)
		b.WriteByte('\n')
	}
	for _, f := range p.Extra {
		field(f.Key, f.Value)
	}
	field(keyNrOfConditions, len(p.conditions))

	for _, c := range p.conditions {
		b.WriteByte('\n')
		p.encodeCondition(&b, c)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (p *Protocol) encodeCondition(b *strings.Builder, c *Condition) {
	b.WriteString(c.Name)
	b.WriteByte('\n')
	b.WriteString(strconv.Itoa(len(c.Intervals)))
	b.WriteByte('\n')

	rows := make([][]string, len(c.Intervals))
	width := 0
	for i, iv := range c.Intervals {
		row := []string{textfmt.FormatNumber(iv.Start), textfmt.FormatNumber(iv.End)}
		if p.ParametricWeights {
			row = append(row, textfmt.FormatNumber(iv.Weight))
		}
		for _, cell := range row {
			width = max(width, len(cell))
		}
		rows[i] = row
	}
	for _, row := range rows {
		for j, cell := range row {
			if j > 0 {
				b.WriteString("  ")
			} else {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "%*s", width, cell)
		}
		b.WriteByte('\n')
	}

	b.WriteString(keyColor + ": " + c.Colour.String())
	b.WriteByte('\n')
}

// Decode reads a protocol in .prt format. Structural problems are reported
// as *textfmt.ParseError values wrapping textfmt.ErrMalformedFile.
func Decode(r io.Reader) (*Protocol, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading protocol: %w", err)
	}
	lines := textfmt.NewLines(string(data))

	p := &Protocol{
		Experiment: DefaultExperiment,
		Display:    DefaultDisplay(),
	}
	version := 0
	nConditions := -1

	for nConditions < 0 {
		line, err := lines.Expect(keyNrOfConditions)
		if err != nil {
			return nil, err
		}
		key, value, ok := textfmt.SplitField(line)
		if !ok {
			return nil, lines.Errorf("expected header field")
		}
		if err := p.decodeHeaderField(lines, key, value, &version, &nConditions); err != nil {
			return nil, err
		}
	}
	if version == 0 {
		return nil, textfmt.Errorf("missing %s", keyFileVersion)
	}
	if p.unit == UnitUnbound {
		return nil, textfmt.Errorf("missing %s", keyResolutionOfTime)
	}

	for i := 0; i < nConditions; i++ {
		c, err := p.decodeCondition(lines)
		if err != nil {
			return nil, err
		}
		c.unit = p.unit
		p.conditions = append(p.conditions, c)
	}
	if err := lines.Done(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protocol) decodeHeaderField(lines *textfmt.Lines, key, value string, version, nConditions *int) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, lines.Errorf("%s: expected integer, got %q", key, value)
		}
		return n, nil
	}
	rgb := func(dst *colour.RGB) error {
		c, err := colour.Parse(value)
		if err != nil {
			return lines.Errorf("%s: %v", key, err)
		}
		*dst = c
		return nil
	}

	var err error
	switch key {
	case keyFileVersion:
		if *version, err = atoi(); err != nil {
			return err
		}
		if *version < 2 || *version > 3 {
			return lines.Errorf("unsupported %s %d", keyFileVersion, *version)
		}
	case keyResolutionOfTime:
		if p.unit, err = ParseTimeUnit(value); err != nil {
			return lines.Errorf("%v", err)
		}
	case keyExperiment:
		p.Experiment = value
	case keyBackgroundColor:
		return rgb(&p.Display.Background)
	case keyTextColor:
		return rgb(&p.Display.Text)
	case keyTimeCourseColor:
		return rgb(&p.Display.TimeCourse)
	case keyReferenceFuncColor:
		return rgb(&p.Display.ReferenceFunc)
	case keyTimeCourseThick:
		p.Display.TimeCourseThick, err = atoi()
	case keyReferenceFuncThick:
		p.Display.ReferenceFuncThick, err = atoi()
	case keyParametricWeights:
		var n int
		if n, err = atoi(); err == nil {
			p.ParametricWeights = n == 1
		}
	case keyNrOfConditions:
		if *nConditions, err = atoi(); err == nil && *nConditions < 0 {
			err = lines.Errorf("negative %s", keyNrOfConditions)
		}
	default:
		p.Extra = append(p.Extra, textfmt.Field{Key: key, Value: value})
	}
	return err
}

func (p *Protocol) decodeCondition(lines *textfmt.Lines) (*Condition, error) {
	name, err := lines.Expect("condition name")
	if err != nil {
		return nil, err
	}
	countLine, err := lines.Expect("interval count")
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countLine)
	if err != nil || count < 0 {
		return nil, lines.Errorf("condition %q: expected interval count", name)
	}

	columns := 2
	if p.ParametricWeights {
		columns = 3
	}
	c := &Condition{Name: name, Intervals: make([]Interval, 0, count)}
	for i := 0; i < count; i++ {
		line, err := lines.Expect("interval")
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != columns {
			return nil, lines.Errorf("condition %q: expected %d values per interval, got %d", name, columns, len(fields))
		}
		var vals [3]float64
		vals[2] = 1
		for j, f := range fields {
			if vals[j], err = textfmt.ParseNumber(f); err != nil {
				return nil, lines.Errorf("condition %q: %v", name, err)
			}
		}
		iv := Interval{Start: vals[0], End: vals[1], Weight: vals[2]}
		if iv.Start > iv.End {
			return nil, lines.Errorf("condition %q: interval start after end", name)
		}
		c.Intervals = append(c.Intervals, iv)
	}

	colourLine, err := lines.Expect(keyColor)
	if err != nil {
		return nil, err
	}
	key, value, ok := textfmt.SplitField(colourLine)
	if !ok || key != keyColor {
		return nil, lines.Errorf("condition %q: expected %s line", name, keyColor)
	}
	if c.Colour, err = colour.Parse(value); err != nil {
		return nil, lines.Errorf("condition %q: %v", name, err)
	}
	return c, nil
}

// Save writes the protocol to path, adding the .prt extension when missing.
// The file is replaced atomically. It returns the path written.
func (p *Protocol) Save(path string) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return "", fmt.Errorf("encoding protocol: %w", err)
	}
	if err := textfmt.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("saving protocol: %w", err)
	}
	return path, nil
}

// Load reads a protocol from a .prt file.
func Load(path string) (*Protocol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening protocol: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, textfmt.WithFile(err, path)
	}
	return p, nil
}
