package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
)

// LocalPathResolver reads images from the filesystem rooted at a configured
// directory, rejecting any path that escapes it.
type LocalPathResolver struct {
	root string
}

func NewLocalPathResolver(root string) *LocalPathResolver {
	return &LocalPathResolver{root: filepath.Clean(root)}
}

func (r *LocalPathResolver) Kind() envelope.ImageReferenceKind { return envelope.KindLocalPath }

func (r *LocalPathResolver) Resolve(ctx context.Context, ref envelope.ImageReference) (Resolved, error) {
	joined := filepath.Join(r.root, ref.Value)
	cleaned := filepath.Clean(joined)

	if !strings.HasPrefix(cleaned, r.root+string(os.PathSeparator)) && cleaned != r.root {
		return Resolved{}, ocrerr.New(ocrerr.CodeImageNotFound, "path escapes the configured image root")
	}

	data, err := os.ReadFile(cleaned)
	if err != nil {
		return Resolved{}, ocrerr.Wrap(ocrerr.CodeImageNotFound, "local image not found", err)
	}

	return Resolved{Bytes: data}, nil
}
