// Package voi reads and writes volume-of-interest definitions (.voi):
// named, coloured voxel coordinate lists in a declared reference space.
package voi

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/textfmt"
	"gonum.org/v1/gonum/stat"
)

// Ext is the file extension of VOI definitions.
const Ext = ".voi"

const (
	fileVersion = 4
	headerWidth = 29
)

const (
	keyFileVersion      = "FileVersion"
	keyReferenceSpace   = "ReferenceSpace"
	keyResolutionX      = "OriginalVMRResolutionX"
	keyResolutionY      = "OriginalVMRResolutionY"
	keyResolutionZ      = "OriginalVMRResolutionZ"
	keyOffsetX          = "OriginalVMROffsetX"
	keyOffsetY          = "OriginalVMROffsetY"
	keyOffsetZ          = "OriginalVMROffsetZ"
	keyFramingCube      = "OriginalVMRFramingCubeDim"
	keyLeftRight        = "LeftRightConvention"
	keyNamingConvention = "SubjectVOINamingConvention"
	keyNrOfVOIs         = "NrOfVOIs"
	keyNameOfVOI        = "NameOfVOI"
	keyColorOfVOI       = "ColorOfVOI"
	keyNrOfVoxels       = "NrOfVoxels"
	keyNrOfVOIVTCs      = "NrOfVOIVTCs"
)

// ReferenceSpaces lists the accepted coordinate systems.
var ReferenceSpaces = []string{"BV", "ACPC", "TAL", "MNI"}

// Image orientation conventions.
const (
	Radiological = 1
	Neurological = 2
)

// Voxel is an integer x, y, z coordinate.
type Voxel [3]int

// VOI is a named region.
type VOI struct {
	Name   string
	Colour colour.RGB
	Voxels []Voxel
}

// Centroid is the mean coordinate of the voxels. It is the zero point for
// an empty region.
func (v VOI) Centroid() [3]float64 {
	var c [3]float64
	if len(v.Voxels) == 0 {
		return c
	}
	axis := make([]float64, len(v.Voxels))
	for d := range c {
		for i, vx := range v.Voxels {
			axis[i] = float64(vx[d])
		}
		c[d] = stat.Mean(axis, nil)
	}
	return c
}

// Definition is a set of regions plus the anatomical reference they were
// drawn in.
type Definition struct {
	ReferenceSpace   string
	Resolution       [3]int
	Offset           [3]int
	FramingCube      int
	LeftRight        int
	NamingConvention string

	// VTCs lists the VOI time course files linked to the definition.
	VTCs []string

	vois []VOI
}

// New returns an empty definition with native-space defaults.
func New() *Definition {
	return &Definition{
		ReferenceSpace:   "BV",
		Resolution:       [3]int{1, 1, 1},
		FramingCube:      256,
		LeftRight:        Radiological,
		NamingConvention: "<VOI>_<SUBJ>",
	}
}

// Validate checks the header values.
func (d *Definition) Validate() error {
	if !slices.Contains(ReferenceSpaces, d.ReferenceSpace) {
		return fmt.Errorf("unknown reference space %q (valid: %s)", d.ReferenceSpace, strings.Join(ReferenceSpaces, ", "))
	}
	if d.LeftRight != Radiological && d.LeftRight != Neurological {
		return fmt.Errorf("left-right convention must be 1 or 2, got %d", d.LeftRight)
	}
	if d.FramingCube <= 0 {
		return fmt.Errorf("framing cube dimension must be positive, got %d", d.FramingCube)
	}
	return nil
}

// Add appends a region. The voxel slice is copied.
func (d *Definition) Add(v VOI) {
	v.Voxels = slices.Clone(v.Voxels)
	d.vois = append(d.vois, v)
}

// VOIs returns the regions in order.
func (d *Definition) VOIs() []VOI { return slices.Clone(d.vois) }

// Len is the number of regions.
func (d *Definition) Len() int { return len(d.vois) }

// Names lists region names in order.
func (d *Definition) Names() []string {
	names := make([]string, len(d.vois))
	for i, v := range d.vois {
		names[i] = v.Name
	}
	return names
}

// Encode writes the definition in .voi format.
func (d *Definition) Encode(w io.Writer) error {
	if err := d.Validate(); err != nil {
		return err
	}

	var b strings.Builder
	field := func(key string, value any) {
		b.WriteString(textfmt.FormatField(key, value, headerWidth))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	field(keyFileVersion, fileVersion)
	b.WriteByte('\n')
	field(keyReferenceSpace, d.ReferenceSpace)
	b.WriteByte('\n')
	field(keyResolutionX, d.Resolution[0])
	field(keyResolutionY, d.Resolution[1])
	field(keyResolutionZ, d.Resolution[2])
	field(keyOffsetX, d.Offset[0])
	field(keyOffsetY, d.Offset[1])
	field(keyOffsetZ, d.Offset[2])
	field(keyFramingCube, d.FramingCube)
	b.WriteByte('\n')
	field(keyLeftRight, d.LeftRight)
	b.WriteByte('\n')
	field(keyNamingConvention, d.NamingConvention)
	b.WriteString("\n\n")
	field(keyNrOfVOIs, len(d.vois))

	for _, v := range d.vois {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s:  %s\n", keyNameOfVOI, v.Name)
		fmt.Fprintf(&b, "%s: %s\n", keyColorOfVOI, v.Colour)
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s: %d\n", keyNrOfVoxels, len(v.Voxels))
		for _, vx := range v.Voxels {
			fmt.Fprintf(&b, "%d %d %d\n", vx[0], vx[1], vx[2])
		}
	}

	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s: %d\n", keyNrOfVOIVTCs, len(d.VTCs))
	for _, vtc := range d.VTCs {
		b.WriteString(vtc)
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Decode reads a definition in .voi format. Header keys may appear in any
// order before NrOfVOIs; the VTC list is optional.
func Decode(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading VOI definition: %w", err)
	}
	lines := textfmt.NewLines(string(data))

	d := New()
	version := 0
	nVOIs := -1
	for nVOIs < 0 {
		line, err := lines.Expect(keyNrOfVOIs)
		if err != nil {
			return nil, err
		}
		key, value, ok := textfmt.SplitField(line)
		if !ok {
			return nil, lines.Errorf("expected header field")
		}
		if err := d.decodeHeaderField(lines, key, value, &version, &nVOIs); err != nil {
			return nil, err
		}
	}
	if version != fileVersion {
		return nil, textfmt.Errorf("unsupported %s %d", keyFileVersion, version)
	}
	if err := d.Validate(); err != nil {
		return nil, textfmt.Errorf("%v", err)
	}

	for i := 0; i < nVOIs; i++ {
		v, err := decodeVOI(lines)
		if err != nil {
			return nil, err
		}
		d.vois = append(d.vois, v)
	}

	if _, ok := lines.Peek(); ok {
		nVTCs, err := lines.ExpectInt(keyNrOfVOIVTCs)
		if err != nil {
			return nil, err
		}
		for i := 0; i < nVTCs; i++ {
			vtc, err := lines.Expect("VTC path")
			if err != nil {
				return nil, err
			}
			d.VTCs = append(d.VTCs, vtc)
		}
	}
	if err := lines.Done(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Definition) decodeHeaderField(lines *textfmt.Lines, key, value string, version, nVOIs *int) error {
	ints := map[string]*int{
		keyFileVersion: version,
		keyResolutionX: &d.Resolution[0],
		keyResolutionY: &d.Resolution[1],
		keyResolutionZ: &d.Resolution[2],
		keyOffsetX:     &d.Offset[0],
		keyOffsetY:     &d.Offset[1],
		keyOffsetZ:     &d.Offset[2],
		keyFramingCube: &d.FramingCube,
		keyLeftRight:   &d.LeftRight,
		keyNrOfVOIs:    nVOIs,
	}
	if dst, ok := ints[key]; ok {
		// Some writers append units or comments after the value.
		first, _, _ := strings.Cut(value, " ")
		n, err := strconv.Atoi(first)
		if err != nil {
			return lines.Errorf("%s: expected integer, got %q", key, value)
		}
		if key == keyNrOfVOIs && n < 0 {
			return lines.Errorf("negative %s", keyNrOfVOIs)
		}
		*dst = n
		return nil
	}
	switch key {
	case keyReferenceSpace:
		d.ReferenceSpace = value
	case keyNamingConvention:
		d.NamingConvention = value
	default:
		return lines.Errorf("unknown header field %q", key)
	}
	return nil
}

func decodeVOI(lines *textfmt.Lines) (VOI, error) {
	var v VOI
	var err error
	if v.Name, err = lines.ExpectField(keyNameOfVOI); err != nil {
		return v, err
	}
	rgb, err := lines.ExpectField(keyColorOfVOI)
	if err != nil {
		return v, err
	}
	if v.Colour, err = colour.Parse(rgb); err != nil {
		return v, lines.Errorf("VOI %q: %v", v.Name, err)
	}
	n, err := lines.ExpectInt(keyNrOfVoxels)
	if err != nil {
		return v, err
	}
	if n < 0 {
		return v, lines.Errorf("VOI %q: negative voxel count", v.Name)
	}
	v.Voxels = make([]Voxel, n)
	for i := range v.Voxels {
		line, err := lines.Expect("voxel")
		if err != nil {
			return v, err
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return v, lines.Errorf("VOI %q voxel %d: expected 3 coordinates, got %d", v.Name, i+1, len(fields))
		}
		for j, f := range fields {
			if v.Voxels[i][j], err = strconv.Atoi(f); err != nil {
				return v, lines.Errorf("VOI %q voxel %d: expected integer, got %q", v.Name, i+1, f)
			}
		}
	}
	return v, nil
}

// Save writes the definition to path, adding the .voi extension when
// missing. It returns the path written.
func (d *Definition) Save(path string) (string, error) {
	path = textfmt.EnsureExt(path, Ext)
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return "", fmt.Errorf("encoding VOI definition: %w", err)
	}
	if err := textfmt.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("saving VOI definition: %w", err)
	}
	return path, nil
}

// Load reads a VOI definition from a .voi file.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening VOI definition: %w", err)
	}
	defer f.Close()

	d, err := Decode(f)
	if err != nil {
		return nil, textfmt.WithFile(err, path)
	}
	return d, nil
}
