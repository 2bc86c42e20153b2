package design

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/logging"
	"github.com/nvandessel/fmridesign/internal/predictor"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func mustProtocol(t *testing.T, unit protocol.TimeUnit, conds ...*protocol.Condition) *protocol.Protocol {
	t.Helper()
	p, err := protocol.New("test", unit)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range conds {
		if err := p.AddCondition(c); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func mustCondition(t *testing.T, name string, ivs ...protocol.Interval) *protocol.Condition {
	t.Helper()
	c, err := protocol.NewCondition(name, ivs, colour.RGB{255, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func activeSamples(values []float64) []int {
	var idx []int
	for i, v := range values {
		if v != 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func span(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestDefinePredictors_TaskScenario(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "Task", protocol.NewInterval(1, 8), protocol.NewInterval(17, 24)))

	m := New()
	if err := m.DefinePredictors(prot, 32, 2000); err != nil {
		t.Fatalf("DefinePredictors() error = %v", err)
	}
	task, ok := m.Predictor("Task")
	if !ok {
		t.Fatal("no Task predictor")
	}
	want := append(span(0, 7), span(16, 23)...)
	if got := activeSamples(task.Values); !slices.Equal(got, want) {
		t.Errorf("active samples = %v, want %v", got, want)
	}
	for _, i := range want {
		if task.Values[i] != 1 {
			t.Errorf("Values[%d] = %v, want 1", i, task.Values[i])
		}
	}
	if task.Colour != (colour.RGB{255, 0, 0}) {
		t.Errorf("Colour = %v", task.Colour)
	}

	if err := m.AddConstant(); err != nil {
		t.Fatal(err)
	}
	data := m.Data()
	if len(data) != 32 || len(data[0]) != 2 {
		t.Errorf("matrix is %dx%d, want 32x2", len(data), len(data[0]))
	}
	if m.TR != 2000 || m.DataPoints() != 32 {
		t.Errorf("TR = %v, DataPoints = %d", m.TR, m.DataPoints())
	}
}

func TestDefinePredictors_ConditionOrderAndOverlap(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "B", protocol.NewInterval(2, 5), protocol.NewInterval(4, 7)),
		mustCondition(t, "A", protocol.NewInterval(9, 10)))

	m := New()
	if err := m.DefinePredictors(prot, 10, 1000); err != nil {
		t.Fatal(err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"B", "A"}) {
		t.Errorf("Names() = %v", got)
	}
	b, _ := m.Predictor("B")
	if got := activeSamples(b.Values); !slices.Equal(got, span(1, 6)) {
		t.Errorf("B active = %v", got)
	}
	for _, v := range b.Values {
		if v > 1 {
			t.Fatalf("overlap counted twice: %v", b.Values)
		}
	}
}

func TestDefinePredictors_Milliseconds(t *testing.T) {
	prot := mustProtocol(t, protocol.Milliseconds,
		mustCondition(t, "Task", protocol.NewInterval(0, 4000), protocol.NewInterval(10000, 12000)))

	m := New()
	if err := m.DefinePredictors(prot, 8, 2000); err != nil {
		t.Fatal(err)
	}
	task, _ := m.Predictor("Task")
	want := []int{0, 1, 5}
	if got := activeSamples(task.Values); !slices.Equal(got, want) {
		t.Errorf("active samples = %v, want %v", got, want)
	}
}

func TestDefinePredictors_MillisecondsReject(t *testing.T) {
	prot := mustProtocol(t, protocol.Milliseconds,
		mustCondition(t, "Task", protocol.NewInterval(500, 4000)))

	err := New().DefinePredictors(prot, 8, 2000, WithRounding(protocol.RoundReject))
	if !errors.Is(err, protocol.ErrInexactConversion) {
		t.Errorf("error = %v, want ErrInexactConversion", err)
	}
}

func TestDefinePredictors_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		iv   protocol.Interval
	}{
		{"past end", protocol.NewInterval(30, 33)},
		{"before start", protocol.NewInterval(0, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prot := mustProtocol(t, protocol.Volumes,
				mustCondition(t, "Ok", protocol.NewInterval(1, 2)),
				mustCondition(t, "Bad", tt.iv))
			m := New()
			if err := m.DefinePredictors(prot, 32, 2000); !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("error = %v, want ErrOutOfRange", err)
			}
			if m.Len() != 0 {
				t.Errorf("Len() = %d after failure, want 0", m.Len())
			}
		})
	}
}

func TestDefinePredictors_InvalidArguments(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "A", protocol.NewInterval(1, 2)))

	if err := New().DefinePredictors(prot, 0, 2000); err == nil {
		t.Error("expected error for zero data points")
	}
	if err := New().DefinePredictors(prot, 10, 0); !errors.Is(err, protocol.ErrInvalidTR) {
		t.Errorf("zero tr error = %v, want ErrInvalidTR", err)
	}

	m := New()
	m.AddPredictor(pred("Existing", 1, 0, 1))
	if err := m.DefinePredictors(prot, 10, 2000); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("length mismatch error = %v, want ErrLengthMismatch", err)
	}
}

func TestDefinePredictors_AppendsBeforeConfounds(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "A", protocol.NewInterval(1, 2)))
	m := New()
	m.AddConfoundPredictor(pred("Motion", 1, 2, 3, 4))
	if err := m.DefinePredictors(prot, 4, 2000); err != nil {
		t.Fatal(err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"A", "Motion"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestDefinePredictors_Parametric(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "Reward",
			protocol.NewWeightedInterval(1, 2, 1),
			protocol.NewWeightedInterval(5, 5, 3),
			protocol.NewWeightedInterval(8, 8, 3)))

	m := New()
	if err := m.DefinePredictors(prot, 10, 2000); err != nil {
		t.Fatal(err)
	}
	want := []string{"Reward" + MainSuffix, "Reward" + ParametricSuffix}
	if got := m.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	mainCol, _ := m.Predictor(want[0])
	if got := activeSamples(mainCol.Values); !slices.Equal(got, []int{0, 1, 4, 7}) {
		t.Errorf("main active = %v", got)
	}
	param, _ := m.Predictor(want[1])
	// mean of the unique weights {1, 3} is 2
	wantParam := []float64{-1, -1, 0, 0, 1, 0, 0, 1, 0, 0}
	if !slices.Equal(param.Values, wantParam) {
		t.Errorf("parametric = %v, want %v", param.Values, wantParam)
	}
}

func TestDefinePredictors_UniformWeightIsPlain(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "A", protocol.NewWeightedInterval(1, 2, 2), protocol.NewWeightedInterval(4, 4, 2)))
	m := New()
	if err := m.DefinePredictors(prot, 5, 1000); err != nil {
		t.Fatal(err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestDefinePredictors_WithHRF(t *testing.T) {
	prot := mustProtocol(t, protocol.Volumes, mustCondition(t, "A", protocol.NewInterval(3, 6)))

	m := New()
	if err := m.DefinePredictors(prot, 30, 2000, WithHRF(hrf.DefaultParams())); err != nil {
		t.Fatal(err)
	}
	a, _ := m.Predictor("A")
	boxcar := make([]float64, 30)
	for i := 2; i <= 5; i++ {
		boxcar[i] = 1
	}
	want, _ := predictor.New("A", boxcar, a.Colour).ConvolveWithHRF(2000, hrf.DefaultParams())
	if !slices.Equal(a.Values, want.Values) {
		t.Errorf("convolved values differ from boxcar convolution")
	}

	bad := hrf.DefaultParams()
	bad.Length = -1
	if err := New().DefinePredictors(prot, 30, 2000, WithHRF(bad)); err == nil {
		t.Error("expected error for invalid HRF parameters")
	}
}

func TestDefinePredictors_Journal(t *testing.T) {
	dir := t.TempDir()
	j := logging.NewJournal(dir, "debug")
	defer j.Close()

	prot := mustProtocol(t, protocol.Volumes,
		mustCondition(t, "A", protocol.NewInterval(1, 2)),
		mustCondition(t, "B", protocol.NewInterval(3, 4)))
	if err := New().DefinePredictors(prot, 4, 1000, WithJournal(j), WithLogger(logging.Discard())); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, logging.JournalFile))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), `"step":"define"`); n != 2 {
		t.Errorf("journal has %d define entries, want 2:\n%s", n, data)
	}
}
