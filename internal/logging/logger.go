// Package logging provides leveled logging and a pipeline journal for
// fmridesign. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A Journal for structured JSONL records of every transformation
//     applied while building a design (.fmridesign/journal.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-sample output.
const LevelTrace = slog.LevelDebug - 4

// JournalFile is the name of the journal inside its directory.
const JournalFile = "journal.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Library code uses it when
// the caller supplies no logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Journal writes one JSON object per pipeline step to a JSONL file.
// It is safe for concurrent use. A nil Journal is safe to use;
// all methods are no-ops on nil receiver.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// NewJournal opens dir/journal.jsonl for append.
// At "info" level (the default), returns nil and no file is created.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewJournal(dir string, level string) *Journal {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, JournalFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &Journal{file: f}
}

// Record writes a step as a single JSONL line with "step" and "time" fields
// added. The caller's map is not mutated. Safe to call on nil receiver.
func (j *Journal) Record(step string, fields map[string]any) {
	if j == nil || j.file == nil {
		return
	}

	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["step"] = step
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = j.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (j *Journal) Close() {
	if j == nil || j.file == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.file.Close()
	j.file = nil
}
