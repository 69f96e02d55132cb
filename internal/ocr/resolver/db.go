package resolver

import (
	"context"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
)

// BlobStore is the collaborator interface for fetching an opaque blob by id
// from whatever system of record owns it (e.g. Postgres via pgx).
type BlobStore interface {
	GetBlob(ctx context.Context, id string) ([]byte, error)
}

// DBResolver resolves `db`-kind references through an opaque BlobStore
// lookup.
type DBResolver struct {
	store BlobStore
}

func NewDBResolver(store BlobStore) *DBResolver {
	return &DBResolver{store: store}
}

func (r *DBResolver) Kind() envelope.ImageReferenceKind { return envelope.KindDB }

func (r *DBResolver) Resolve(ctx context.Context, ref envelope.ImageReference) (Resolved, error) {
	data, err := r.store.GetBlob(ctx, ref.Value)
	if err != nil {
		return Resolved{}, ocrerr.Wrap(ocrerr.CodeImageNotFound, "blob not found", err)
	}
	return Resolved{Bytes: data}, nil
}
