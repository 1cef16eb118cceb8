package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kotae-ai/kotae/internal/models"
)

// recordDB holds the chunk records for all collections. The vector side lives
// in chromem; this table serves exact-match queries, diffing, and metadata
// display at retrieval time.
type recordDB struct {
	db *sql.DB
}

// openRecordDB opens or creates the record database at dbPath and initializes
// the schema. Parent directories are created if needed.
func openRecordDB(dbPath string) (*recordDB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &recordDB{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		schema TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		collection TEXT NOT NULL,
		hash TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		text TEXT NOT NULL,
		doc_title TEXT NOT NULL DEFAULT '',
		doc_summary TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		security_groups INTEGER NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (collection, hash)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(collection, doc_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (r *recordDB) registerCollection(ctx context.Context, name string, schema Schema) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (name, schema) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, string(schema))
	return err
}

func (r *recordDB) listCollections(ctx context.Context) (map[string]Schema, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, schema FROM collections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Schema)
	for rows.Next() {
		var name, schema string
		if err := rows.Scan(&name, &schema); err != nil {
			return nil, err
		}
		out[name] = Schema(schema)
	}
	return out, rows.Err()
}

func (r *recordDB) insertChunks(ctx context.Context, collection string, chunks []*models.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks
		 (collection, hash, doc_id, text, doc_title, doc_summary, url, timestamp, security_groups, answer)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		// SQLite has no unsigned 64-bit type; the mask is stored bit-exact as int64.
		if _, err := stmt.ExecContext(ctx, collection, c.Hash, c.DocID, c.Text,
			c.DocTitle, c.DocSummary, c.URL, c.Timestamp, int64(c.SecurityGroups), c.Answer); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *recordDB) chunksByDoc(ctx context.Context, collection, docID string) ([]*models.Chunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hash, doc_id, text, doc_title, doc_summary, url, timestamp, security_groups, answer
		 FROM chunks WHERE collection = ? AND doc_id = ?`, collection, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (r *recordDB) chunksByHashes(ctx context.Context, collection string, hashes []string) ([]*models.Chunk, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]interface{}, 0, len(hashes)+1)
	args = append(args, collection)
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT hash, doc_id, text, doc_title, doc_summary, url, timestamp, security_groups, answer
		 FROM chunks WHERE collection = ? AND hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (r *recordDB) deleteChunks(ctx context.Context, collection, docID string, hashes []string) error {
	if len(hashes) == 0 {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE collection = ? AND doc_id = ?`, collection, docID)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]interface{}, 0, len(hashes)+2)
	args = append(args, collection, docID)
	for _, h := range hashes {
		args = append(args, h)
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND doc_id = ? AND hash IN (`+placeholders+`)`, args...)
	return err
}

func (r *recordDB) countChunks(ctx context.Context, collection string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func (r *recordDB) close() error {
	return r.db.Close()
}

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var mask int64
		if err := rows.Scan(&c.Hash, &c.DocID, &c.Text, &c.DocTitle, &c.DocSummary,
			&c.URL, &c.Timestamp, &mask, &c.Answer); err != nil {
			return nil, err
		}
		c.SecurityGroups = uint64(mask)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
