package design

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/logging"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func TestBuild(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "A", protocol.NewInterval(2, 4)),
		mustCondition(t, "B", protocol.NewInterval(6, 7)),
	)

	m, err := Build(prot, 10, 2000, BuildOptions{
		Convolve:    true,
		HRF:         hrf.DefaultParams(),
		Derivatives: 2,
		ZTransform:  true,
		AddConstant: true,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"A", "B", "A_D1", "B_D1", "A_D2", "B_D2", "Constant"}
	if !slices.Equal(m.Names(), want) {
		t.Errorf("Names() = %v, want %v", m.Names(), want)
	}
	if m.FirstConfound() != 3 || !m.HasConstant() || m.Transformation != TransformZ || m.TR != 2000 {
		t.Errorf("FirstConfound %d HasConstant %v Transformation %v TR %v",
			m.FirstConfound(), m.HasConstant(), m.Transformation, m.TR)
	}
	for _, p := range m.Predictors()[:m.Len()-1] {
		var sum float64
		for _, v := range p.Values {
			sum += v
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("%s not centred: sum = %g", p.Name, sum)
		}
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuild_Minimal(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "Task", protocol.NewInterval(1, 2)))

	m, err := Build(prot, 4, 1000, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !slices.Equal(m.Names(), []string{"Task"}) || m.HasConstant() {
		t.Errorf("Names() = %v, HasConstant %v", m.Names(), m.HasConstant())
	}
	if !slices.Equal(m.Predictors()[0].Values, []float64{1, 1, 0, 0}) {
		t.Errorf("Values = %v", m.Predictors()[0].Values)
	}
}

func TestBuild_Errors(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "Task", protocol.NewInterval(1, 2)))

	if _, err := Build(prot, 4, 1000, BuildOptions{Derivatives: 3}); !errors.Is(err, predictor.ErrInvalidOrder) {
		t.Errorf("Derivatives 3: error = %v, want ErrInvalidOrder", err)
	}
	if _, err := Build(prot, 4, 0, BuildOptions{}); !errors.Is(err, protocol.ErrInvalidTR) {
		t.Errorf("tr 0: error = %v, want ErrInvalidTR", err)
	}
	if _, err := Build(prot, 1, 1000, BuildOptions{}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("short run: error = %v, want ErrOutOfRange", err)
	}
}

func TestBuild_Journal(t *testing.T) {
	dir := t.TempDir()
	j := logging.NewJournal(dir, "trace")
	defer j.Close()

	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "Task", protocol.NewInterval(1, 2)))
	if _, err := Build(prot, 6, 1000, BuildOptions{
		Convolve:    true,
		HRF:         hrf.DefaultParams(),
		Derivatives: 1,
		ZTransform:  true,
		AddConstant: true,
		Journal:     j,
	}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, logging.JournalFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []string{"convolve", "define", "derivative", "z-transform", "constant"} {
		if !strings.Contains(string(data), `"step":"`+step+`"`) {
			t.Errorf("journal missing %q step:\n%s", step, data)
		}
	}
}
