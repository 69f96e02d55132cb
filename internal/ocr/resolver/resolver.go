// Package resolver turns an Image Reference into raw bytes plus a sniffed
// media type, dispatching by reference kind.
package resolver

import (
	"bytes"
	"context"
	"net/http"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
)

// Resolved is the output of a successful resolve: raw bytes and a sniffed
// media type.
type Resolved struct {
	Bytes     []byte
	MediaType string
}

// Resolver fetches the bytes behind a single Image Reference.
type Resolver interface {
	Kind() envelope.ImageReferenceKind
	Resolve(ctx context.Context, ref envelope.ImageReference) (Resolved, error)
}

// MultiResolver dispatches to the Resolver registered for a reference's
// kind.
type MultiResolver struct {
	resolvers map[envelope.ImageReferenceKind]Resolver
}

func NewMultiResolver(resolvers ...Resolver) *MultiResolver {
	m := &MultiResolver{resolvers: make(map[envelope.ImageReferenceKind]Resolver, len(resolvers))}
	for _, r := range resolvers {
		m.resolvers[r.Kind()] = r
	}
	return m
}

func (m *MultiResolver) Resolve(ctx context.Context, ref envelope.ImageReference) (Resolved, error) {
	r, ok := m.resolvers[ref.Kind]
	if !ok {
		return Resolved{}, ocrerr.New(ocrerr.CodeBadRequest, "no resolver registered for kind "+string(ref.Kind))
	}

	resolved, err := r.Resolve(ctx, ref)
	if err != nil {
		return Resolved{}, err
	}

	return sniff(resolved)
}

// pdfMagic is the leading byte sequence every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// sniff classifies resolved bytes, rejecting PDFs and any non-image type
// per spec.md §4.1.
func sniff(resolved Resolved) (Resolved, error) {
	if bytes.HasPrefix(resolved.Bytes, pdfMagic) {
		return Resolved{}, ocrerr.New(ocrerr.CodeUnsupportedMedia, "PDF documents are not supported; images only")
	}

	mediaType := http.DetectContentType(resolved.Bytes)
	resolved.MediaType = mediaType

	if len(mediaType) < 6 || mediaType[:6] != "image/" {
		return Resolved{}, ocrerr.New(ocrerr.CodeUnsupportedMedia, "unsupported media type: "+mediaType)
	}

	return resolved, nil
}
