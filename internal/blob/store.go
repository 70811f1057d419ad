// Package blob stores uploaded message images and avatars.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chat-sync-service/internal/apperr"
)

type Kind string

const (
	KindImage  Kind = "images"
	KindAvatar Kind = "avatars"
)

const (
	DefaultMaxImageBytes  int64 = 2 << 20
	DefaultMaxAvatarBytes int64 = 5 << 20
)

var allowedExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// Store persists blobs and returns the URL they are served from.
type Store interface {
	Put(ctx context.Context, kind Kind, filename string, data []byte) (string, error)
}

// LocalStore writes blobs below a directory served at BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
	limits  map[Kind]int64
}

func NewLocalStore(dir, baseURL string, maxImage, maxAvatar int64) (*LocalStore, error) {
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}
	if maxAvatar <= 0 {
		maxAvatar = DefaultMaxAvatarBytes
	}
	for _, k := range []Kind{KindImage, KindAvatar} {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  map[Kind]int64{KindImage: maxImage, KindAvatar: maxAvatar},
	}, nil
}

// Limit returns the size limit for kind, or 0 for an unknown kind.
func (s *LocalStore) Limit(kind Kind) int64 { return s.limits[kind] }

// Put validates and writes data under a fresh name keeping the extension.
func (s *LocalStore) Put(_ context.Context, kind Kind, filename string, data []byte) (string, error) {
	limit, ok := s.limits[kind]
	if !ok {
		return "", apperr.Validation("unknown upload kind")
	}
	if len(data) == 0 {
		return "", apperr.Validation("file is empty")
	}
	if int64(len(data)) > limit {
		return "", apperr.Validation(fmt.Sprintf("file exceeds %d MB", limit>>20))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", apperr.Validation("unsupported image type")
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, string(kind), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.Transient("store upload", err)
	}
	return s.baseURL + "/" + string(kind) + "/" + name, nil
}
