package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/bottlematch/internal/models"
)

// SQLiteStorage implements Backend using SQLite. Embeddings are little-endian float32
// blobs; the metadata table keeps insertion order through an autoincrement sequence.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bottles (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		image_url TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Type returns the backend identifier.
func (s *SQLiteStorage) Type() string { return "sqlite" }

// LoadMetadata returns all bottles ordered by insertion sequence.
func (s *SQLiteStorage) LoadMetadata(ctx context.Context) ([]models.Bottle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, image_url FROM bottles ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query bottles: %w", err)
	}
	defer rows.Close()

	var bottles []models.Bottle
	for rows.Next() {
		var b models.Bottle
		var imageURL sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &imageURL); err != nil {
			return nil, fmt.Errorf("scan bottle: %w", err)
		}
		b.ImageURL = imageURL.String
		bottles = append(bottles, b)
	}
	return bottles, rows.Err()
}

// SaveMetadata replaces the bottles table in one transaction.
func (s *SQLiteStorage) SaveMetadata(ctx context.Context, bottles []models.Bottle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bottles`); err != nil {
		return fmt.Errorf("clear bottles: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bottles (id, name, image_url) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bottles {
		var imageURL sql.NullString
		if b.ImageURL != "" {
			imageURL = sql.NullString{String: b.ImageURL, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.Name, imageURL); err != nil {
			return fmt.Errorf("insert bottle %q: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// ListEmbeddingIDs returns all embedding ids in byte order.
func (s *SQLiteStorage) ListEmbeddingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadEmbedding returns the embedding stored for id.
func (s *SQLiteStorage) LoadEmbedding(ctx context.Context, id string) ([]float32, error) {
	var dims int
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT dims, vector FROM embeddings WHERE id = ?`, id).Scan(&dims, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding %q: %w", id, err)
	}
	vec, err := DecodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", id, err)
	}
	if len(vec) != dims {
		return nil, fmt.Errorf("embedding %q: blob holds %d values, row says %d", id, len(vec), dims)
	}
	return vec, nil
}

// SaveEmbedding inserts or replaces the embedding for id.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (id, dims, vector, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET dims = excluded.dims, vector = excluded.vector, updated_at = excluded.updated_at`,
		id, len(vec), EncodeEmbedding(vec),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding %q: %w", id, err)
	}
	return nil
}

// DeleteEmbedding removes the embedding for id.
func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE id = ?`, id)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
