package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const metadataSchema = `
CREATE TABLE chunks (
	ordinal    INTEGER PRIMARY KEY,
	chunk_id   TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL,
	text       TEXT NOT NULL,
	start_word INTEGER NOT NULL,
	end_word   INTEGER NOT NULL
);`

// writeMetadata stores every chunk with its ordinal in a fresh SQLite file.
func writeMetadata(ctx context.Context, path string, cs *ChunkStore) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open metadata database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		return fmt.Errorf("failed to create metadata schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metadata transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (ordinal, chunk_id, url, title, text, start_word, end_word) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < cs.Len(); i++ {
		c := cs.At(i)
		if _, err := stmt.ExecContext(ctx, i, c.ChunkID, c.URL, c.Title, c.Text, c.StartWord, c.EndWord); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

// readMetadata returns chunks in ordinal order and checks that ordinals are
// exactly 0..n-1.
func readMetadata(ctx context.Context, path string) ([]Chunk, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT ordinal, chunk_id, url, title, text, start_word, end_word FROM chunks ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var ordinal int
		var c Chunk
		if err := rows.Scan(&ordinal, &c.ChunkID, &c.URL, &c.Title, &c.Text, &c.StartWord, &c.EndWord); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if ordinal != len(chunks) {
			return nil, fmt.Errorf("chunk ordinals are not contiguous: expected %d, found %d", len(chunks), ordinal)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return chunks, nil
}
