package textfmt

import (
	"fmt"
	"strconv"
	"strings"
)

// Lines is a cursor over the lines of a decoded document. Blank lines are
// skipped by Next and Peek; line numbers are 1-based and refer to the
// original text.
type Lines struct {
	lines []string
	pos   int // index of the next line to consider
	cur   int // index of the line most recently returned by Next
}

// NewLines splits text into lines, dropping carriage returns and expanding
// tabs to two spaces.
func NewLines(text string) *Lines {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\t", "  ")
	return &Lines{lines: strings.Split(text, "\n"), cur: -1}
}

// Next returns the next non-blank line, trimmed of surrounding whitespace.
func (l *Lines) Next() (string, bool) {
	for l.pos < len(l.lines) {
		line := strings.TrimSpace(l.lines[l.pos])
		l.cur = l.pos
		l.pos++
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// Peek returns the next non-blank line without consuming it.
func (l *Lines) Peek() (string, bool) {
	for i := l.pos; i < len(l.lines); i++ {
		if line := strings.TrimSpace(l.lines[i]); line != "" {
			return line, true
		}
	}
	return "", false
}

// Expect returns the next non-blank line or a ParseError naming what was
// expected.
func (l *Lines) Expect(what string) (string, error) {
	line, ok := l.Next()
	if !ok {
		return "", &ParseError{Line: len(l.lines), Msg: "unexpected end of file, expected " + what}
	}
	return line, nil
}

// LineNo is the 1-based number of the line last returned by Next.
func (l *Lines) LineNo() int {
	return l.cur + 1
}

// Errorf reports a problem with the line last returned by Next.
func (l *Lines) Errorf(format string, args ...any) *ParseError {
	pe := &ParseError{Line: l.LineNo(), Msg: fmt.Sprintf(format, args...)}
	if l.cur >= 0 && l.cur < len(l.lines) {
		pe.Content = strings.TrimSpace(l.lines[l.cur])
	}
	return pe
}

// ExpectField reads the next line as a "Key: value" field and checks the key.
func (l *Lines) ExpectField(key string) (string, error) {
	line, err := l.Expect(key)
	if err != nil {
		return "", err
	}
	k, v, ok := SplitField(line)
	if !ok || k != key {
		return "", l.Errorf("expected %s field", key)
	}
	return v, nil
}

// ExpectInt reads a "Key: n" field with an integer value.
func (l *Lines) ExpectInt(key string) (int, error) {
	v, err := l.ExpectField(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, l.Errorf("%s: expected integer, got %q", key, v)
	}
	return n, nil
}

// Done reports an error if any non-blank content remains.
func (l *Lines) Done() error {
	if _, ok := l.Next(); ok {
		return l.Errorf("unexpected trailing content")
	}
	return nil
}
