// Package study reads and writes multi-study design lists (.mdm): the
// functional data and single-study design matrix of every run that enters
// a group analysis.
package study

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/textfmt"
)

// Ext is the file extension of multi-study design lists.
const Ext = ".mdm"

const (
	fileVersion = 3
	headerWidth = 22
)

const (
	keyFileVersion          = "FileVersion"
	keyTypeOfFunctionalData = "TypeOfFunctionalData"
	keyRFXGLM               = "RFX-GLM"
	keyPSCTransformation    = "PSCTransformation"
	keyZTransformation      = "zTransformation"
	keySeparatePredictors   = "SeparatePredictors"
	keyNrOfStudies          = "NrOfStudies"
)

var (
	// ErrDataTypeMismatch is returned when volume and surface studies are
	// mixed in one list.
	ErrDataTypeMismatch = errors.New("functional data type mismatch")

	// ErrPredictorMismatch is returned when the design matrices of a list
	// do not share the same predictor names.
	ErrPredictorMismatch = errors.New("design matrices differ in predictors")
)

// DataType is the kind of functional data a list refers to.
type DataType int

const (
	// VTC is volume time course data, one file per study.
	VTC DataType = iota
	// MTC is mesh time course data, paired with a surface mapping file.
	MTC
)

func (t DataType) String() string {
	if t == MTC {
		return "MTC"
	}
	return "VTC"
}

// ParseDataType accepts "VTC" or "MTC".
func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VTC":
		return VTC, nil
	case "MTC":
		return MTC, nil
	}
	return VTC, fmt.Errorf("unknown functional data type %q", s)
}

// SourceRef locates the functional data of one study. It is either a
// SingleFile or a PairedFiles.
type SourceRef interface {
	Files() []string
	DataType() DataType
	sourceRef()
}

// SingleFile is a volume time course.
type SingleFile struct {
	Path string
}

func (s SingleFile) Files() []string { return []string{s.Path} }
func (s SingleFile) DataType() DataType { return VTC }
func (SingleFile) sourceRef() {}

// PairedFiles is a surface mapping plus a mesh time course.
type PairedFiles struct {
	SSM string
	MTC string
}

func (p PairedFiles) Files() []string { return []string{p.SSM, p.MTC} }
func (p PairedFiles) DataType() DataType { return MTC }
func (PairedFiles) sourceRef() {}

// Study pairs functional data with its design matrix file.
type Study struct {
	Source SourceRef
	SDM    string
}

// Transformation is the signal normalisation applied to each study.
type Transformation int

const (
	// TransformPSC converts to percent signal change.
	TransformPSC Transformation = iota
	// TransformZ z-transforms each time course.
	TransformZ
)

func (t Transformation) String() string {
	if t == TransformZ {
		return "z"
	}
	return "psc"
}

// ParseTransformation accepts "psc" or "z".
func ParseTransformation(s string) (Transformation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "psc":
		return TransformPSC, nil
	case "z":
		return TransformZ, nil
	}
	return TransformPSC, fmt.Errorf("unknown transformation %q (valid: psc, z)", s)
}

// List is an ordered multi-study design list.
type List struct {
	RFXGLM             bool
	Transformation     Transformation
	SeparatePredictors bool

	dataType DataType
	studies  []Study
}

// New returns an empty list of volume studies with percent signal change.
func New() *List {
	return &List{}
}

// DataType is the functional data kind shared by every study.
func (l *List) DataType() DataType { return l.dataType }

// Len is the number of studies.
func (l *List) Len() int { return len(l.studies) }

// Studies returns the studies in order.
func (l *List) Studies() []Study { return slices.Clone(l.studies) }

// Add appends a study. The first study fixes the data type.
func (l *List) Add(s Study) error {
	if s.Source == nil {
		return fmt.Errorf("study %q has no source", s.SDM)
	}
	dt := s.Source.DataType()
	if len(l.studies) > 0 && dt != l.dataType {
		return fmt.Errorf("study is %s, but list contains %s data: %w", dt, l.dataType, ErrDataTypeMismatch)
	}
	l.dataType = dt
	l.studies = append(l.studies, s)
	return nil
}

// LoadDesigns loads the design matrix of every study and checks that they
// share predictor names.
func (l *List) LoadDesigns() ([]*design.Matrix, error) {
	out := make([]*design.Matrix, 0, len(l.studies))
	var names []string
	for i, s := range l.studies {
		m, err := design.Load(s.SDM)
		if err != nil {
			return nil, fmt.Errorf("study %d: %w", i+1, err)
		}
		if i == 0 {
			names = m.Names()
		} else if !slices.Equal(names, m.Names()) {
			return nil, fmt.Errorf("study %d (%s): %w", i+1, textfmt.RedactPath(s.SDM), ErrPredictorMismatch)
		}
		out = append(out, m)
	}
	return out, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Encode writes the list in .mdm format.
func (l *List) Encode(w io.Writer) error {
	var b strings.Builder
	field := func(key string, value any) {
		b.WriteString(textfmt.FormatField(key, value, headerWidth))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	field(keyFileVersion, fileVersion)
	field(keyTypeOfFunctionalData, l.dataType)
	b.WriteByte('\n')
	field(keyRFXGLM, flag(l.RFXGLM))
	b.WriteByte('\n')
	field(keyPSCTransformation, flag(l.Transformation == TransformPSC))
	field(keyZTransformation, flag(l.Transformation == TransformZ))
	field(keySeparatePredictors, flag(l.SeparatePredictors))
	b.WriteByte('\n')
	field(keyNrOfStudies, len(l.studies))
	for _, s := range l.studies {
		b.WriteString(textfmt.FormatQuoted(append(s.Source.Files(), s.SDM)))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Decode reads a list in .mdm format.
func Decode(r io.Reader) (*List, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading study list: %w", err)
	}
	lines := textfmt.NewLines(string(data))

	l := New()
	seen := make(map[string]bool)
	var version, nStudies int
	var psc, z bool
	for {
		line, ok := lines.Peek()
		if !ok || strings.HasPrefix(line, `"`) {
			break
		}
		lines.Next()
		key, value, ok := textfmt.SplitField(line)
		if !ok {
			return nil, lines.Errorf("expected header field")
		}
		seen[key] = true
		atoi := func() (int, error) {
			n, err := strconv.Atoi(value)
			if err != nil {
				return 0, lines.Errorf("%s: expected integer, got %q", key, value)
			}
			return n, nil
		}
		var n int
		switch key {
		case keyFileVersion:
			version, err = atoi()
		case keyTypeOfFunctionalData:
			if l.dataType, err = ParseDataType(value); err != nil {
				err = lines.Errorf("%v", err)
			}
		case keyRFXGLM:
			n, err = atoi()
			l.RFXGLM = n == 1
		case keyPSCTransformation:
			n, err = atoi()
			psc = n == 1
		case keyZTransformation:
			n, err = atoi()
			z = n == 1
		case keySeparatePredictors:
			n, err = atoi()
			l.SeparatePredictors = n == 1
		case keyNrOfStudies:
			nStudies, err = atoi()
		default:
			err = lines.Errorf("unknown header field %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, key := range []string{keyFileVersion, keyNrOfStudies} {
		if !seen[key] {
			return nil, textfmt.Errorf("missing %s", key)
		}
	}
	if version != fileVersion {
		return nil, textfmt.Errorf("unsupported %s %d", keyFileVersion, version)
	}
	if psc && z {
		return nil, textfmt.Errorf("both %s and %s set", keyPSCTransformation, keyZTransformation)
	}
	if z {
		l.Transformation = TransformZ
	}

	declared := l.dataType
	for i := 0; i < nStudies; i++ {
		line, err := lines.Expect("study")
		if err != nil {
			return nil, err
		}
		files, err := textfmt.ParseQuoted(line)
		if err != nil {
			return nil, lines.Errorf("%v", err)
		}
		var s Study
		switch len(files) {
		case 2:
			s = Study{Source: SingleFile{Path: files[0]}, SDM: files[1]}
		case 3:
			s = Study{Source: PairedFiles{SSM: files[0], MTC: files[1]}, SDM: files[2]}
		default:
			return nil, lines.Errorf("study %d: expected 2 or 3 paths, got %d", i+1, len(files))
		}
		if s.Source.DataType() != declared {
			return nil, lines.Errorf("study %d is %s, header declares %s", i+1, s.Source.DataType(), declared)
		}
		if err := l.Add(s); err != nil {
			return nil, lines.Errorf("%v", err)
		}
	}
	if err := lines.Done(); err != nil {
		return nil, err
	}
	l.dataType = declared
	return l, nil
}

// Save writes the list to path, adding the .mdm extension when missing.
// It returns the path written.
func (l *List) Save(path string) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	var buf bytes.Buffer
	if err := l.Encode(&buf); err != nil {
		return "", fmt.Errorf("encoding study list: %w", err)
	}
	if err := textfmt.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("saving study list: %w", err)
	}
	return path, nil
}

// Load reads a study list from a .mdm file.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening study list: %w", err)
	}
	defer f.Close()

	l, err := Decode(f)
	if err != nil {
		return nil, textfmt.WithFile(err, path)
	}
	return l, nil
}
