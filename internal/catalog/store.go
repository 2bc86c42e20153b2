package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

// Kind classifies catalog documents by file format.
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindDesign   Kind = "design"
	KindContrast Kind = "contrast"
	KindStudy    Kind = "study"
	KindVOI      Kind = "voi"
)

// Kinds lists every accepted kind.
var Kinds = []Kind{KindProtocol, KindDesign, KindContrast, KindStudy, KindVOI}

// ParseKind accepts a kind name or a file extension such as ".prt".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "protocol", "prt":
		return KindProtocol, nil
	case "design", "sdm":
		return KindDesign, nil
	case "contrast", "ctr":
		return KindContrast, nil
	case "study", "mdm":
		return KindStudy, nil
	case "voi":
		return KindVOI, nil
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}

var (
	// ErrNotFound is returned when no document matches an id.
	ErrNotFound = errors.New("document not found")

	// ErrAmbiguousID is returned when an id prefix matches several documents.
	ErrAmbiguousID = errors.New("ambiguous document id")

	// ErrKindMismatch is returned when loading a document as the wrong kind.
	ErrKindMismatch = errors.New("document kind mismatch")
)

// minPrefix is the shortest id prefix accepted for lookups.
const minPrefix = 4

// Entry describes a stored document without its content.
type Entry struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Name      string         `json:"name"`
	Hash      string         `json:"hash"`
	Summary   map[string]any `json:"summary,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is a SQLite-backed document catalog. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens or creates the catalog database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path is the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Put stores content under a new id. Content already in the catalog is
// not duplicated: the existing id is returned with created set to false.
func (s *Store) Put(ctx context.Context, kind Kind, name string, content []byte, summary map[string]any, tags []string) (id string, created bool, err error) {
	if !slices.Contains(Kinds, kind) {
		return "", false, fmt.Errorf("unknown document kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := contentHash(content)
	err = s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE content_hash = ?`, hash).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("failed to look up content hash: %w", err)
	}

	var summaryJSON sql.NullString
	if len(summary) > 0 {
		data, err := json.Marshal(summary)
		if err != nil {
			return "", false, fmt.Errorf("failed to marshal summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, kind, name, content, content_hash, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), name, string(content), hash, summaryJSON,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", false, fmt.Errorf("failed to insert document: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO document_tags (document_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return "", false, fmt.Errorf("failed to insert tag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit document: %w", err)
	}
	return id, true, nil
}

// resolveID maps a full id or a unique prefix onto a stored id.
func (s *Store) resolveID(ctx context.Context, ref string) (string, error) {
	if len(ref) < minPrefix {
		return "", fmt.Errorf("id %q: %w", ref, ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE id = ? OR id LIKE ? ESCAPE '\' LIMIT 2`,
		ref, escapeLike(ref)+"%")
	if err != nil {
		return "", fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan id: %w", err)
		}
		if id == ref {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("id %q: %w", ref, ErrNotFound)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("id %q: %w", ref, ErrAmbiguousID)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const entryColumns = `id, kind, name, content_hash, summary, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var kind, created string
	var summary sql.NullString
	if err := row.Scan(&e.ID, &kind, &e.Name, &e.Hash, &summary, &created); err != nil {
		return e, err
	}
	e.Kind = Kind(kind)
	if summary.Valid {
		if err := json.Unmarshal([]byte(summary.String), &e.Summary); err != nil {
			return e, fmt.Errorf("failed to unmarshal summary of %s: %w", e.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return e, fmt.Errorf("failed to parse created_at of %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}

func (s *Store) loadTags(ctx context.Context, e *Entry) error {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM document_tags WHERE document_id = ? ORDER BY tag`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		e.Tags = append(e.Tags, tag)
	}
	return rows.Err()
}

// Get returns the entry and content of the document with the given id or
// unique id prefix.
func (s *Store) Get(ctx context.Context, ref string) (*Entry, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+`, content FROM documents WHERE id = ?`, id)

	var e Entry
	var kind, created, content string
	var summary sql.NullString
	if err := row.Scan(&e.ID, &kind, &e.Name, &e.Hash, &summary, &created, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("id %q: %w", ref, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to read document: %w", err)
	}
	e.Kind = Kind(kind)
	if summary.Valid {
		if err := json.Unmarshal([]byte(summary.String), &e.Summary); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := s.loadTags(ctx, &e); err != nil {
		return nil, nil, err
	}
	return &e, []byte(content), nil
}

// List returns entries of the given kind, or of every kind when kind is
// empty, newest first. A non-empty tag restricts the result to documents
// carrying it.
func (s *Store) List(ctx context.Context, kind Kind, tag string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM documents WHERE 1 = 1`
	var args []any
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	if tag != "" {
		query += ` AND id IN (SELECT document_id FROM document_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		if err := s.loadTags(ctx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Delete removes a document and its tags.
func (s *Store) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// ProtocolSummary describes a protocol for catalog listings.
func ProtocolSummary(p *protocol.Protocol) map[string]any {
	intervals := 0
	for _, c := range p.Conditions() {
		intervals += len(c.Intervals)
	}
	return map[string]any{
		"experiment": p.Experiment,
		"unit":       p.Unit().String(),
		"conditions": p.ConditionNames(),
		"intervals":  intervals,
		"parametric": p.ParametricWeights,
	}
}

// DesignSummary describes a design matrix for catalog listings.
func DesignSummary(m *design.Matrix) map[string]any {
	return map[string]any{
		"predictors":     m.Names(),
		"data_points":    m.DataPoints(),
		"first_confound": m.FirstConfound(),
		"constant":       m.HasConstant(),
		"tr":             m.TR,
		"transformation": m.Transformation.String(),
	}
}

// PutProtocol encodes and stores a protocol.
func (s *Store) PutProtocol(ctx context.Context, name string, p *protocol.Protocol, tags ...string) (string, bool, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return "", false, fmt.Errorf("encoding protocol: %w", err)
	}
	return s.Put(ctx, KindProtocol, name, buf.Bytes(), ProtocolSummary(p), tags)
}

// LoadProtocol decodes a stored protocol.
func (s *Store) LoadProtocol(ctx context.Context, ref string) (*protocol.Protocol, error) {
	e, content, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if e.Kind != KindProtocol {
		return nil, fmt.Errorf("%s is a %s: %w", e.ID, e.Kind, ErrKindMismatch)
	}
	return protocol.Decode(bytes.NewReader(content))
}

// PutDesign encodes and stores a design matrix.
func (s *Store) PutDesign(ctx context.Context, name string, m *design.Matrix, tags ...string) (string, bool, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return "", false, fmt.Errorf("encoding design matrix: %w", err)
	}
	return s.Put(ctx, KindDesign, name, buf.Bytes(), DesignSummary(m), tags)
}

// LoadDesign decodes a stored design matrix.
func (s *Store) LoadDesign(ctx context.Context, ref string) (*design.Matrix, error) {
	e, content, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if e.Kind != KindDesign {
		return nil, fmt.Errorf("%s is a %s: %w", e.ID, e.Kind, ErrKindMismatch)
	}
	return design.Decode(bytes.NewReader(content))
}
