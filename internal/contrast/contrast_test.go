package contrast

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/nvandessel/fmridesign/internal/textfmt"
)

func TestAdd_LengthMismatch(t *testing.T) {
	d := New()
	if err := d.Add(Contrast{Name: "A>B", Weights: []int{1, -1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := d.Add(Contrast{Name: "bad", Weights: []int{1, -1}}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Add() error = %v, want ErrLengthMismatch", err)
	}
	if err := d.Add(Contrast{Name: "empty"}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Add(empty) error = %v, want ErrLengthMismatch", err)
	}
	if d.Len() != 1 || d.NrOfValues() != 3 {
		t.Errorf("Len %d NrOfValues %d", d.Len(), d.NrOfValues())
	}
}

func TestFromWeights(t *testing.T) {
	cols := []string{"A", "B", "Constant"}
	c, err := FromWeights("A>B", cols, map[string]int{"A": 1, "B": -1})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(c.Weights, []int{1, -1, 0}) {
		t.Errorf("Weights = %v", c.Weights)
	}
	if _, err := FromWeights("x", cols, map[string]int{"C": 1}); !errors.Is(err, ErrUnknownPredictor) {
		t.Errorf("error = %v, want ErrUnknownPredictor", err)
	}
}

func TestEncode_Layout(t *testing.T) {
	d := New()
	d.Add(Contrast{Name: "A>B", Weights: []int{1, -1}})
	d.Add(Contrast{Name: "A", Weights: []int{1, 0}})

	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	want := `
FileVersion:          1
NrOfContrasts:        2
NrOfValues:           2

"A>B" "A"
  1   1
 -1   0
`
	if buf.String() != want {
		t.Errorf("Encode() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	d := New()
	d.Add(Contrast{Name: "Faces > Houses", Weights: []int{1, -1, 0, 0}})
	d.Add(Contrast{Name: "All", Weights: []int{1, 1, 1, -3}})

	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for i, c := range d.Contrasts() {
		g := got.Contrasts()[i]
		if g.Name != c.Name || !slices.Equal(g.Weights, c.Weights) {
			t.Errorf("contrast %d = %+v, want %+v", i, g, c)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	header := "FileVersion: 1\nNrOfContrasts: 2\nNrOfValues: 2\n"
	tests := []struct {
		name  string
		input string
	}{
		{"bad version", "FileVersion: 7\nNrOfContrasts: 0\nNrOfValues: 0\n"},
		{"missing count", "FileVersion: 1\nNrOfValues: 0\n"},
		{"name count", header + "\"A\"\n1 2\n3 4\n"},
		{"ragged", header + "\"A\" \"B\"\n1 2\n3\n"},
		{"real weight", header + "\"A\" \"B\"\n1 2\n3 0.5\n"},
		{"trailing", header + "\"A\" \"B\"\n1 2\n3 4\n5 6\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.input)); !errors.Is(err, textfmt.ErrMalformedFile) {
				t.Errorf("Decode() error = %v, want ErrMalformedFile", err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	d := New()
	d.Add(Contrast{Name: "A", Weights: []int{1, 0}})
	path, err := d.Save(filepath.Join(t.TempDir(), "contrasts"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, Ext) {
		t.Errorf("path = %q", path)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Names(), []string{"A"}) {
		t.Errorf("Names() = %v", got.Names())
	}
}
