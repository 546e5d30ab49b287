package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}

	docQuery := `SELECT path, technology, content_hash, indexed_at FROM documents`
	rows, err := s.db.QueryContext(ctx, docQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e DocumentEntry
		if err := rows.Scan(&e.Path, &e.Technology, &e.ContentHash, &e.IndexedAt); err != nil {
			return nil, err
		}
		snap[e.Path] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunkQuery := `SELECT document_path, chunk_id, ordinal, section_title, category, content_hash
		FROM chunks ORDER BY document_path, ordinal`
	chunkRows, err := s.db.QueryContext(ctx, chunkQuery)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()

	for chunkRows.Next() {
		var path string
		var c ChunkEntry
		if err := chunkRows.Scan(&path, &c.ID, &c.Ordinal, &c.SectionTitle, &c.Category, &c.ContentHash); err != nil {
			return nil, err
		}
		entry, ok := snap[path]
		if !ok {
			return nil, fmt.Errorf("chunk %s references unknown document %s", c.ID, path)
		}
		entry.Chunks = append(entry.Chunks, c)
		snap[path] = entry
	}
	return snap, chunkRows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, path string) (*DocumentEntry, error) {
	e := &DocumentEntry{}
	query := `SELECT path, technology, content_hash, indexed_at FROM documents WHERE path = $1`
	err := s.db.QueryRowContext(ctx, query, path).Scan(&e.Path, &e.Technology, &e.ContentHash, &e.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	chunkQuery := `SELECT chunk_id, ordinal, section_title, category, content_hash
		FROM chunks WHERE document_path = $1 ORDER BY ordinal`
	rows, err := s.db.QueryContext(ctx, chunkQuery, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c ChunkEntry
		if err := rows.Scan(&c.ID, &c.Ordinal, &c.SectionTitle, &c.Category, &c.ContentHash); err != nil {
			return nil, err
		}
		e.Chunks = append(e.Chunks, c)
	}
	return e, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, entry DocumentEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	indexedAt := entry.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	upsert := `INSERT INTO documents (path, technology, content_hash, indexed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET technology = $2, content_hash = $3, indexed_at = $4`
	if _, err := tx.ExecContext(ctx, upsert, entry.Path, entry.Technology, entry.ContentHash, indexedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_path = $1`, entry.Path); err != nil {
		return err
	}

	insert := `INSERT INTO chunks (chunk_id, document_path, ordinal, section_title, category, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, c := range entry.Chunks {
		if _, err := tx.ExecContext(ctx, insert, c.ID, entry.Path, c.Ordinal, c.SectionTitle, c.Category, c.ContentHash); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_path = $1`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Technologies: map[string]TechnologyStats{}}

	query := `SELECT d.technology, COUNT(DISTINCT d.path), COUNT(c.chunk_id)
		FROM documents d LEFT JOIN chunks c ON c.document_path = d.path
		GROUP BY d.technology`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tech string
		var ts TechnologyStats
		if err := rows.Scan(&tech, &ts.Documents, &ts.Chunks); err != nil {
			return nil, err
		}
		stats.Technologies[tech] = ts
		stats.Documents += ts.Documents
		stats.Chunks += ts.Chunks
	}
	return stats, rows.Err()
}
