// Package sqlite is a durable single-file vector store backed by modernc.org/sqlite.
//
// Each collection is a table; metadata is stored as a JSON object and filtered
// with json_extract, embeddings as little-endian float32 blobs. Similarity is
// computed in process, which is fine at the document counts this service keeps.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/feichai0017/document-rag/internal/vectorstore"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures the store.
type Config struct {
	Path       string
	Collection string
}

// Storage implements vectorstore.Backend.
type Storage struct {
	db    *sql.DB
	path  string
	table string
}

// NewStorage opens (or creates) the database and the collection table.
func NewStorage(cfg Config) (*Storage, error) {
	if !tableNamePattern.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("invalid collection name %q", cfg.Collection)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, path: cfg.Path, table: cfg.Collection}
	if err := s.CreateCollection(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) CreateCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			text      TEXT NOT NULL,
			metadata  TEXT NOT NULL,
			embedding BLOB
		)`, s.table))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.table, err)
	}
	return nil
}

func (s *Storage) DropCollection(ctx context.Context) error {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return vectorstore.ErrCollectionNotFound
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE "+s.table); err != nil {
		return fmt.Errorf("dropping collection %s: %w", s.table, err)
	}
	return nil
}

func (s *Storage) tableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", s.table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking collection: %w", err)
	}
	return n > 0, nil
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, text, metadata, embedding) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			embedding = excluded.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, string(meta), encodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Get(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	rows, err := s.selectRows(ctx, "id, text, metadata", filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vectorstore.Record
	for rows.Next() {
		var r vectorstore.Record
		var meta string
		if err := rows.Scan(&r.ID, &r.Text, &meta); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Metadata = decodeMetadata(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Storage) Query(ctx context.Context, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Match, error) {
	rows, err := s.selectRows(ctx, "id, text, metadata, embedding", filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var m vectorstore.Match
		var meta string
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		m.Metadata = decodeMetadata(meta)
		m.Score = vectorstore.Cosine(decodeVector(blob), vector)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.TopK(matches, k), nil
}

func (s *Storage) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", s.table, placeholders), args...)
	if err != nil {
		return fmt.Errorf("deleting ids: %w", err)
	}
	return nil
}

func (s *Storage) DeleteWhere(ctx context.Context, filter vectorstore.Filter) error {
	where, args, err := whereClause(filter)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", s.table, where), args...); err != nil {
		return fmt.Errorf("deleting by filter: %w", err)
	}
	return nil
}

// Flush checkpoints the WAL into the main database file.
func (s *Storage) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}
	return nil
}

// Persisted reports whether the database file exists and holds the collection.
func (s *Storage) Persisted(ctx context.Context) bool {
	if _, err := os.Stat(s.path); err != nil {
		return false
	}
	exists, err := s.tableExists(ctx)
	return err == nil && exists
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) selectRows(ctx context.Context, columns string, filter vectorstore.Filter) (*sql.Rows, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s%s ORDER BY rowid", columns, s.table, where), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return rows, nil
}

func whereClause(filter vectorstore.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		conds = append(conds, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+k, filter[k])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func decodeMetadata(raw string) map[string]string {
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

var _ vectorstore.Backend = (*Storage)(nil)
