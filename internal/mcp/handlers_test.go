package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/fmridesign/internal/colour"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	server, err := NewServer(&Config{
		Name:        "test-server",
		Version:     "v1.0.0",
		Root:        tmpDir,
		CatalogPath: filepath.Join(tmpDir, "home", "catalog.db"),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, tmpDir
}

// writeProtocol writes a two-condition block design over 32 volumes.
func writeProtocol(t *testing.T, dir, name string) string {
	t.Helper()
	p, err := protocol.New("faces", protocol.Volumes)
	if err != nil {
		t.Fatal(err)
	}
	task, err := protocol.NewCondition("Task", []protocol.Interval{
		protocol.NewInterval(1, 8), protocol.NewInterval(17, 24),
	}, colour.RGB{255, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	rest, err := protocol.NewCondition("Rest", []protocol.Interval{
		protocol.NewInterval(9, 16),
	}, colour.RGB{0, 0, 255})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []*protocol.Condition{task, rest} {
		if err := p.AddCondition(c); err != nil {
			t.Fatal(err)
		}
	}
	path, err := p.Save(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandleProtocolInspect(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")

	result, out, err := server.handleProtocolInspect(context.Background(), &sdk.CallToolRequest{}, ProtocolInspectInput{
		Path: "run1.prt",
		TR:   2000,
	})
	if err != nil {
		t.Fatalf("handleProtocolInspect failed: %v", err)
	}
	if result != nil {
		t.Error("Expected nil result (SDK auto-populates)")
	}

	if out.Experiment != "faces" || out.Unit != "Volumes" || out.FileVersion != 2 || out.Parametric {
		t.Errorf("header = %+v", out)
	}
	if out.Events != 3 || len(out.Conditions) != 2 {
		t.Fatalf("Events = %d, Conditions = %d", out.Events, len(out.Conditions))
	}
	task := out.Conditions[0]
	if task.Name != "Task" || task.Intervals != 2 || task.Duration != 16 || task.DurationMS != 32000 {
		t.Errorf("Task summary = %+v", task)
	}
	if task.Colour != "255 0 0" {
		t.Errorf("Task colour = %q", task.Colour)
	}
}

func TestHandleProtocolInspect_Errors(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")

	tests := []struct {
		name string
		args ProtocolInspectInput
	}{
		{"empty path", ProtocolInspectInput{}},
		{"outside root", ProtocolInspectInput{Path: "../run1.prt"}},
		{"missing file", ProtocolInspectInput{Path: "missing.prt"}},
		{"negative tr", ProtocolInspectInput{Path: "run1.prt", TR: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.handleProtocolInspect(context.Background(), &sdk.CallToolRequest{}, tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleDesignBuild(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	ctx := context.Background()

	convolve := false
	_, out, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol:   "run1.prt",
		DataPoints: 32,
		TR:         2000,
		Convolve:   &convolve,
		Arrow:      true,
		Catalog:    true,
	})
	if err != nil {
		t.Fatalf("handleDesignBuild failed: %v", err)
	}

	if out.Path != filepath.Join(tmpDir, "run1.sdm") {
		t.Errorf("Path = %q", out.Path)
	}
	if !slices.Equal(out.Predictors, []string{"Task", "Rest", "Constant"}) {
		t.Errorf("Predictors = %v", out.Predictors)
	}
	if out.DataPoints != 32 || out.FirstConfound != 3 || !out.HasConstant {
		t.Errorf("output = %+v", out)
	}
	if out.CatalogID == "" {
		t.Error("expected a catalog id")
	}
	if _, err := os.Stat(out.ArrowPath); err != nil {
		t.Errorf("arrow export missing: %v", err)
	}

	m, err := design.Load(out.Path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	task, _ := m.Predictor("Task")
	for i, v := range task.Values {
		want := 0.0
		if i < 8 || (i >= 16 && i < 24) {
			want = 1
		}
		if v != want {
			t.Fatalf("Task[%d] = %g, want %g", i, v, want)
		}
	}
}

func TestHandleDesignBuild_Options(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	ctx := context.Background()

	noConstant := false
	_, out, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol:    "run1.prt",
		Output:      "out/run1_conv",
		DataPoints:  32,
		TR:          2000,
		AddConstant: &noConstant,
		Derivatives: 1,
		ZTransform:  true,
	})
	if err == nil {
		t.Fatal("expected error: output directory does not exist")
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, "out"), 0755); err != nil {
		t.Fatal(err)
	}
	_, out, err = server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol:    "run1.prt",
		Output:      "out/run1_conv",
		DataPoints:  32,
		TR:          2000,
		AddConstant: &noConstant,
		Derivatives: 1,
		ZTransform:  true,
	})
	if err != nil {
		t.Fatalf("handleDesignBuild failed: %v", err)
	}
	if out.Path != filepath.Join(tmpDir, "out", "run1_conv.sdm") {
		t.Errorf("Path = %q", out.Path)
	}
	if !slices.Equal(out.Predictors, []string{"Task", "Rest", "Task_D1", "Rest_D1"}) || out.HasConstant {
		t.Errorf("Predictors = %v, HasConstant %v", out.Predictors, out.HasConstant)
	}
}

func TestHandleDesignBuild_Errors(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	ctx := context.Background()

	tests := []struct {
		name string
		args DesignBuildInput
		want error
	}{
		{"no tr configured", DesignBuildInput{Protocol: "run1.prt", DataPoints: 32}, protocol.ErrInvalidTR},
		{"run too short", DesignBuildInput{Protocol: "run1.prt", DataPoints: 10, TR: 2000}, design.ErrOutOfRange},
		{"bad rounding", DesignBuildInput{Protocol: "run1.prt", DataPoints: 32, TR: 2000, Rounding: "ceil"}, nil},
		{"output outside root", DesignBuildInput{Protocol: "run1.prt", Output: "../x.sdm", DataPoints: 32, TR: 2000}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHandleDesignBuild_ConfiguredTR(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	server.settings.Conversion.TR = 2000

	_, out, err := server.handleDesignBuild(context.Background(), &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol:   "run1.prt",
		DataPoints: 32,
	})
	if err != nil {
		t.Fatalf("handleDesignBuild failed: %v", err)
	}
	m, err := design.Load(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if m.TR != 2000 {
		t.Errorf("TR = %g, want 2000", m.TR)
	}
}

func TestHandleDesignInspect(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	ctx := context.Background()

	convolve := false
	_, built, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol:    "run1.prt",
		DataPoints:  32,
		TR:          2000,
		Convolve:    &convolve,
		Derivatives: 1,
		Arrow:       true,
		Catalog:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	inputs := map[string]DesignInspectInput{
		"sdm":   {Path: "run1.sdm"},
		"arrow": {Path: filepath.Base(built.ArrowPath)},
		"id":    {ID: built.CatalogID[:8]},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, out, err := server.handleDesignInspect(ctx, &sdk.CallToolRequest{}, in)
			if err != nil {
				t.Fatalf("handleDesignInspect failed: %v", err)
			}
			if len(out.Predictors) != 5 || out.DataPoints != 32 || out.FirstConfound != 3 || !out.HasConstant {
				t.Fatalf("output = %+v", out)
			}
			task := out.Predictors[0]
			if task.Name != "Task" || task.Confound || task.Mean != 0.5 || task.Std != 0.5 || task.Min != 0 || task.Max != 1 {
				t.Errorf("Task summary = %+v", task)
			}
			if !out.Predictors[2].Confound || !out.Predictors[3].Confound || out.Predictors[4].Confound {
				t.Errorf("confound flags wrong: %+v", out.Predictors)
			}
		})
	}
}

func TestHandleDesignInspect_Errors(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	for _, in := range []DesignInspectInput{{}, {Path: "a.sdm", ID: "abcd"}, {ID: "ffffffff"}, {Path: "missing.sdm"}} {
		if _, _, err := server.handleDesignInspect(ctx, &sdk.CallToolRequest{}, in); err == nil {
			t.Errorf("handleDesignInspect(%+v) expected error", in)
		}
	}
}

func TestHandleCatalogList(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	writeProtocol(t, tmpDir, "run1.prt")
	ctx := context.Background()

	_, out, err := server.handleCatalogList(ctx, &sdk.CallToolRequest{}, CatalogListInput{})
	if err != nil {
		t.Fatalf("handleCatalogList failed: %v", err)
	}
	if out.Count != 0 || out.Entries == nil {
		t.Errorf("empty catalog: %+v", out)
	}

	if _, _, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol: "run1.prt", DataPoints: 32, TR: 2000, Catalog: true,
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		kind string
		want int
	}{
		{"", 2},
		{"design", 1},
		{".prt", 1},
		{"voi", 0},
	}
	for _, tt := range tests {
		_, out, err := server.handleCatalogList(ctx, &sdk.CallToolRequest{}, CatalogListInput{Kind: tt.kind})
		if err != nil {
			t.Fatalf("handleCatalogList(%q) failed: %v", tt.kind, err)
		}
		if out.Count != tt.want {
			t.Errorf("handleCatalogList(%q) Count = %d, want %d", tt.kind, out.Count, tt.want)
		}
	}

	if _, _, err := server.handleCatalogList(ctx, &sdk.CallToolRequest{}, CatalogListInput{Kind: "vtc"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestHandleCatalogResource(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	ctx := context.Background()

	res, err := server.handleCatalogResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Contents[0].Text, "empty") {
		t.Errorf("empty catalog text = %q", res.Contents[0].Text)
	}

	writeProtocol(t, tmpDir, "run1.prt")
	if _, _, err := server.handleDesignBuild(ctx, &sdk.CallToolRequest{}, DesignBuildInput{
		Protocol: "run1.prt", DataPoints: 32, TR: 2000, Catalog: true,
	}); err != nil {
		t.Fatal(err)
	}
	res, err = server.handleCatalogResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := res.Contents[0].Text
	if !strings.Contains(text, "| design | run1.sdm |") || !strings.Contains(text, "| protocol | run1.prt |") {
		t.Errorf("catalog text = %q", text)
	}
}
