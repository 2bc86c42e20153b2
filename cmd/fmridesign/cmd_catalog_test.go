package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/fmridesign/internal/catalog"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func TestCatalogAddListShowRm(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	path := writeProtocol(t, tmpDir, "run1.prt")
	runJSON(t, "design", "build", path, "-n", "24", "--tr", "2000")
	sdm := filepath.Join(tmpDir, "run1.sdm")

	result := runJSON(t, "catalog", "add", path, sdm, "--tag", "sub01")
	added, _ := result["added"].([]any)
	if len(added) != 2 {
		t.Fatalf("added %d documents, want 2", len(added))
	}
	first, _ := added[0].(map[string]any)
	if first["kind"] != "protocol" || first["created"] != true {
		t.Errorf("first added = %v", first)
	}
	protID := first["id"].(string)

	// Identical content is stored once
	result = runJSON(t, "catalog", "add", path)
	again, _ := result["added"].([]any)
	entry, _ := again[0].(map[string]any)
	if entry["id"] != protID || entry["created"] != false {
		t.Errorf("re-add = %v, want existing id %s", entry, protID)
	}

	result = runJSON(t, "catalog", "list", "--kind", "sdm")
	if result["count"] != float64(1) {
		t.Errorf("design count = %v, want 1", result["count"])
	}
	result = runJSON(t, "catalog", "list", "--tag", "sub01")
	if result["count"] != float64(2) {
		t.Errorf("tagged count = %v, want 2", result["count"])
	}

	out, err := runCLI(t, "catalog", "show", protID[:8])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Task") {
		t.Errorf("catalog show output missing condition:\n%s", out)
	}

	restored := filepath.Join(tmpDir, "restored.prt")
	if _, err := runCLI(t, "catalog", "show", protID, "-o", restored); err != nil {
		t.Fatal(err)
	}
	p, err := protocol.Load(restored)
	if err != nil {
		t.Fatalf("restored protocol does not load: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("restored protocol has %d conditions, want 2", p.Len())
	}

	if _, err := runCLI(t, "catalog", "rm", protID); err != nil {
		t.Fatal(err)
	}
	_, err = runCLI(t, "catalog", "show", protID)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("error after rm = %v, want ErrNotFound", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "home", ".fmridesign", "catalog.db")); err != nil {
		t.Errorf("catalog not created in isolated home: %v", err)
	}
}

func TestCatalogAdd_Rejects(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	notes := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "catalog", "add", notes); err == nil {
		t.Error("expected error for unknown extension")
	}

	broken := filepath.Join(tmpDir, "broken.prt")
	if err := os.WriteFile(broken, []byte("FileVersion: 2\nNrOfConditions: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "catalog", "add", broken); err == nil {
		t.Error("expected error for malformed protocol")
	}

	if _, err := runCLI(t, "catalog", "list", "--kind", "movie"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCatalogBuild(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	path := writeProtocol(t, tmpDir, "run1.prt")

	result := runJSON(t, "design", "build", path, "-n", "24", "--tr", "2000", "--catalog", "--tag", "pilot")
	id, _ := result["catalog_id"].(string)
	if id == "" {
		t.Fatal("no catalog id returned")
	}

	result = runJSON(t, "catalog", "list", "--tag", "pilot")
	if result["count"] != float64(2) {
		t.Errorf("pilot entries = %v, want protocol and design", result["count"])
	}
	result = runJSON(t, "catalog", "show", id)
	e, _ := result["entry"].(map[string]any)
	if e["kind"] != "design" || e["name"] != "run1.sdm" {
		t.Errorf("entry = %v", e)
	}
}
