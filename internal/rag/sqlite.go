package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS historical_cases (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	collection        TEXT    NOT NULL,
	case_id           TEXT    NOT NULL UNIQUE,
	student_id        TEXT    NOT NULL,
	district          TEXT    NOT NULL DEFAULT '',
	final_decision    TEXT    NOT NULL DEFAULT '',
	ai_decision       TEXT    NOT NULL DEFAULT '',
	admin_decision    TEXT    NOT NULL DEFAULT '',
	score             REAL    NOT NULL DEFAULT 0,
	verification_date TEXT    NOT NULL,
	has_admin_remarks INTEGER NOT NULL DEFAULT 0,
	narrative         TEXT    NOT NULL,
	dim               INTEGER NOT NULL,
	embedding         BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_historical_cases_collection ON historical_cases (collection, district);
`

// SQLiteStore is a durable single-file store. Similarity is computed in
// process over the collection, which suits the few thousand cases a
// verification program accumulates.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
}

var _ VectorStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path, collection string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Debug().Str("path", path).Str("collection", collection).Msg("SQLite case index opened")
	return &SQLiteStore{db: db, path: path, collection: collection}, nil
}

// Append inserts one case.
func (s *SQLiteStore) Append(ctx context.Context, c HistoricalCase) error {
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if dim != 0 && dim != len(c.Embedding) {
		return ErrDimensionMismatch
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO historical_cases
		(collection, case_id, student_id, district, final_decision, ai_decision, admin_decision,
		 score, verification_date, has_admin_remarks, narrative, dim, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.collection, c.CaseID, c.Metadata.StudentID, c.Metadata.District,
		c.Metadata.FinalDecision, c.Metadata.AIDecision, c.Metadata.AdminDecision,
		c.Metadata.Score, c.Metadata.VerificationDate.UTC().Format(time.RFC3339Nano),
		c.Metadata.HasAdminRemarks, c.NarrativeText, len(c.Embedding), encodeVector(c.Embedding),
	)
	if err != nil {
		return fmt.Errorf("insert case %s: %w", c.CaseID, err)
	}
	return nil
}

// Query loads the collection (optionally one district) and ranks it.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, filter Filter, k int) ([]Match, error) {
	query := `SELECT case_id, student_id, district, final_decision, ai_decision, admin_decision,
		score, verification_date, has_admin_remarks, narrative, embedding
		FROM historical_cases WHERE collection = ?`
	args := []any{s.collection}
	if filter.District != "" {
		query += ` AND district = ?`
		args = append(args, filter.District)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var candidates []HistoricalCase
	for rows.Next() {
		var (
			c       HistoricalCase
			verDate string
			blob    []byte
		)
		if err := rows.Scan(&c.CaseID, &c.Metadata.StudentID, &c.Metadata.District,
			&c.Metadata.FinalDecision, &c.Metadata.AIDecision, &c.Metadata.AdminDecision,
			&c.Metadata.Score, &verDate, &c.Metadata.HasAdminRemarks, &c.NarrativeText, &blob); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Metadata.VerificationDate, _ = time.Parse(time.RFC3339Nano, verDate)
		c.Embedding = decodeVector(blob)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return rankByDistance(embedding, candidates, k)
}

// Count returns the number of cases in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM historical_cases WHERE collection = ?`, s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Location() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// dimension returns the embedding size stored in the collection, or 0 when empty.
func (s *SQLiteStore) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dim FROM historical_cases WHERE collection = ? ORDER BY id LIMIT 1`, s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return dim, nil
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
