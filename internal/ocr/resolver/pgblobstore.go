package resolver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBlobStore implements BlobStore over the shared Postgres pool,
// treating the primary datastore as an opaque blob-by-id lookup per
// SPEC_FULL.md §4.1.
type PostgresBlobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresBlobStore(pool *pgxpool.Pool) *PostgresBlobStore {
	return &PostgresBlobStore{pool: pool}
}

// GetBlob reads the raw image bytes stored under id in image_blobs. Callers
// treat a missing row the same as any other resolve failure.
func (s *PostgresBlobStore) GetBlob(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM image_blobs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("image blob %q not found: %w", id, err)
		}
		return nil, fmt.Errorf("query image blob %q: %w", id, err)
	}
	return data, nil
}
