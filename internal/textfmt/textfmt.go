// Package textfmt holds the line-oriented codec helpers shared by the
// protocol, design matrix and collaborator file formats: "Key: value"
// header fields, quoted name rows, number formatting, strict line scanning
// with positioned parse errors, and atomic file writes.
package textfmt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedFile is returned (wrapped) for any structural violation found
// while decoding a file.
var ErrMalformedFile = errors.New("malformed file")

// ParseError describes where decoding failed.
type ParseError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line"`
	Content string `json:"content,omitempty"`
	Msg     string `json:"error"`
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(ErrMalformedFile.Error())
	if e.File != "" {
		b.WriteString(" ")
		b.WriteString(e.File)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Content != "" {
		fmt.Fprintf(&b, " (%q)", truncateForError(e.Content))
	}
	return b.String()
}

// Unwrap makes errors.Is(err, ErrMalformedFile) hold for every ParseError.
func (e *ParseError) Unwrap() error {
	return ErrMalformedFile
}

// WithFile records the file name on a ParseError contained in err.
// Other errors are returned unchanged.
func WithFile(err error, file string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.File == "" {
		pe.File = file
	}
	return err
}

// Errorf builds a ParseError that is not tied to a particular line.
func Errorf(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

func truncateForError(s string) string {
	const maxLen = 80
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// FormatField renders a header line with the key and colon left-justified
// to width, e.g. FormatField("FileVersion", 2, 20) == "FileVersion:        2".
func FormatField(key string, value any, width int) string {
	return fmt.Sprintf("%-*s%v", width, key+":", value)
}

// SplitField splits a "Key: value" header line at its first colon.
func SplitField(line string) (key, value string, ok bool) {
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}

// FormatNumber writes integral values without a fractional part and other
// values with the shortest representation that parses back exactly.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseNumber parses an integer or real field.
func ParseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}

// FormatQuoted renders names as a row of double-quoted strings separated by
// single spaces: "a" "b" "c".
func FormatQuoted(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return `"` + strings.Join(names, `" "`) + `"`
}

// ParseQuoted splits a row of double-quoted strings. Text outside quotes
// other than whitespace is an error.
func ParseQuoted(line string) ([]string, error) {
	var names []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] != '"' {
			return nil, fmt.Errorf("expected opening quote at %q", truncateForError(rest))
		}
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return nil, fmt.Errorf("unterminated quoted name")
		}
		names = append(names, rest[1:1+end])
		rest = strings.TrimSpace(rest[end+2:])
	}
	return names, nil
}

// Field is a header entry kept verbatim, used to carry keys a decoder does
// not interpret through a round trip.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
