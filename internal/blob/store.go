package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rajinweb/contract-esign/internal/apperrors"
)

// Store is the opaque content store behind the version chain. Failures are
// surfaced, not retried; the caller retries the whole action.
type Store interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
}

// MemoryStore keeps blobs in process memory. Used by tests and as a fallback
// when no blob root is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (s *MemoryStore) Put(_ context.Context, bucket, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return apperrors.Storage("reading blob payload", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[memKey(bucket, key)] = data
	return nil
}

func (s *MemoryStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[memKey(bucket, key)]
	if !ok {
		return nil, apperrors.Storage(fmt.Sprintf("blob %s/%s not found", bucket, key), apperrors.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Copy(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[memKey(srcBucket, srcKey)]
	if !ok {
		return apperrors.Storage(fmt.Sprintf("blob %s/%s not found", srcBucket, srcKey), apperrors.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[memKey(dstBucket, dstKey)] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, memKey(bucket, key))
	return nil
}

// FileStore persists blobs under root/bucket/key on the local filesystem.
// Writes go to a temp file first so partially written content never becomes
// visible under the final key.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Storage("creating blob root", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

func (s *FileStore) Put(_ context.Context, bucket, key string, r io.Reader, _ string) error {
	target := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperrors.Storage("creating blob directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return apperrors.Storage("creating temp blob", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperrors.Storage("writing blob", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Storage("closing blob", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return apperrors.Storage("linking blob", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Storage(fmt.Sprintf("blob %s/%s not found", bucket, key), apperrors.ErrNotFound)
		}
		return nil, apperrors.Storage("opening blob", err)
	}
	return f, nil
}

func (s *FileStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src, err := s.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()
	return s.Put(ctx, dstBucket, dstKey, src, "")
}

func (s *FileStore) Delete(_ context.Context, bucket, key string) error {
	if err := os.Remove(s.path(bucket, key)); err != nil && !os.IsNotExist(err) {
		return apperrors.Storage("deleting blob", err)
	}
	return nil
}
