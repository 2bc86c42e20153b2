package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/fmridesign/internal/config"
)

// isolateHome sets HOME to a temp directory to avoid touching real ~/.fmridesign/
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0755); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
	t.Setenv("USERPROFILE", tmpHome)
}

func TestNewServer(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	server, err := NewServer(&Config{
		Name:    "test-server",
		Version: "v1.0.0",
		Root:    tmpDir,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.server == nil {
		t.Error("Server.server is nil")
	}
	if server.catalog == nil {
		t.Error("Server.catalog is nil")
	}
	if server.settings == nil {
		t.Error("Server.settings is nil")
	}
	if server.journal != nil {
		t.Error("expected no journal at info level")
	}

	// Default catalog lives under the isolated home
	want := filepath.Join(tmpDir, "home", config.DirName, "catalog.db")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("catalog not created at %s: %v", want, err)
	}
}

func TestNewServer_DebugJournal(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	settings := config.Default()
	settings.Logging.Level = "debug"
	server, err := NewServer(&Config{
		Name:        "test-server",
		Version:     "v1.0.0",
		Root:        tmpDir,
		Settings:    settings,
		CatalogPath: filepath.Join(tmpDir, "catalog.db"),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	writeProtocol(t, tmpDir, "run1.prt")
	if _, _, err := server.handleProtocolInspect(context.Background(), &sdk.CallToolRequest{}, ProtocolInspectInput{Path: "run1.prt"}); err != nil {
		t.Fatal(err)
	}
	server.journal.Close()

	data, err := os.ReadFile(filepath.Join(tmpDir, "home", config.DirName, "journal.jsonl"))
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, config.DirName)); !os.IsNotExist(err) {
		t.Errorf("journal directory created inside the served root: %v", err)
	}
	if !strings.Contains(string(data), `"tool":"protocol_inspect"`) {
		t.Errorf("journal missing tool entry:\n%s", data)
	}
}

func TestServer_InMemoryClient(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	server, err := NewServer(&Config{Name: "test-server", Version: "v1.0.0", Root: tmpDir})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	ss, err := server.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server Connect failed: %v", err)
	}
	defer ss.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect failed: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	got := make(map[string]bool)
	for _, tool := range tools.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"protocol_inspect", "design_build", "design_inspect", "catalog_list"} {
		if !got[name] {
			t.Errorf("tool %q not registered", name)
		}
	}

	writeProtocol(t, tmpDir, "run1.prt")
	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "protocol_inspect",
		Arguments: map[string]any{"path": "run1.prt"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Errorf("protocol_inspect returned an error result: %+v", res.Content)
	}

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "protocol_inspect",
		Arguments: map[string]any{"path": "../outside.prt"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for a path outside the root")
	}
}

// startSession runs serve on an in-memory transport and connects a client.
func startSession(t *testing.T, ctx context.Context) (*sdk.ClientSession, <-chan error) {
	t.Helper()
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	server, err := NewServer(&Config{Name: "test-server", Version: "v1.0.0", Root: tmpDir})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	done := make(chan error, 1)
	go func() { done <- server.serve(ctx, serverTransport) }()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect failed: %v", err)
	}
	return cs, done
}

func waitServe(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestServe_ClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cs, done := startSession(t, ctx)
	if _, err := cs.ListTools(ctx, nil); err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	cs.Close()
	waitServe(t, done)
}

func TestServe_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs, done := startSession(t, ctx)
	defer cs.Close()
	cancel()
	waitServe(t, done)
}
