package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	subDir := filepath.Join(allowedDir, "sub-01")
	if err := os.MkdirAll(subDir, 0700); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		allowedDirs []string
		wantErr     bool
		errContains string
	}{
		{"inside allowed dir", filepath.Join(allowedDir, "run1.prt"), []string{allowedDir}, false, ""},
		{"in subdirectory", filepath.Join(subDir, "run1.sdm"), []string{allowedDir}, false, ""},
		{"exactly the allowed dir", allowedDir, []string{allowedDir}, false, ""},
		{"missing parent dirs", filepath.Join(allowedDir, "a", "b", "run1.sdm"), []string{allowedDir}, false, ""},
		{"dot-dot traversal", filepath.Join(allowedDir, "..", "etc", "passwd"), []string{allowedDir}, true, "outside allowed directories"},
		{"outside allowed dir", filepath.Join(otherDir, "run1.prt"), []string{allowedDir}, true, "outside allowed directories"},
		{"null byte", filepath.Join(allowedDir, "run\x001.prt"), []string{allowedDir}, true, "null byte"},
		{"empty path", "", []string{allowedDir}, true, "empty"},
		{"no allowed dirs", filepath.Join(allowedDir, "run1.prt"), nil, true, "no allowed directories"},
		{"matches second dir", filepath.Join(otherDir, "run1.prt"), []string{allowedDir, otherDir}, false, ""},
		{"embedded dot-dot", filepath.Join(allowedDir, "sub-01", "..", "..", "x.prt"), []string{allowedDir}, true, "outside allowed directories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowedDirs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidatePath() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestValidatePath_SymlinkOutsideAllowedDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	symlinkPath := filepath.Join(allowedDir, "escape")
	if err := os.Symlink(outsideDir, symlinkPath); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	err := ValidatePath(filepath.Join(symlinkPath, "run1.sdm"), []string{allowedDir})
	if err == nil || !strings.Contains(err.Error(), "outside allowed directories") {
		t.Errorf("ValidatePath() error = %v, want error about outside allowed directories", err)
	}
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	got, err := ResolveWithin(root, "sub/run1.prt")
	if err != nil {
		t.Fatalf("ResolveWithin() error = %v", err)
	}
	if got != filepath.Join(root, "sub", "run1.prt") {
		t.Errorf("ResolveWithin() = %q", got)
	}

	abs := filepath.Join(root, "run2.sdm")
	if got, err := ResolveWithin(root, abs); err != nil || got != abs {
		t.Errorf("ResolveWithin(abs) = %q, %v", got, err)
	}

	for _, p := range []string{"", "../escape.prt", filepath.Join(t.TempDir(), "x.prt")} {
		if _, err := ResolveWithin(root, p); err == nil {
			t.Errorf("ResolveWithin(%q) expected error", p)
		}
	}
}
