package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// uploadChunkSize keeps the resumable-upload buffer small; pipeline inputs
// are tiny TSV/JSON files.
const uploadChunkSize = 2 * 1024 * 1024

type StorageService interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte) error
	UploadFile(ctx context.Context, bucket, key string, file io.Reader) error
	DownloadBytes(ctx context.Context, bucket, key string) ([]byte, error)
	DownloadFile(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, bucket, key string) bool
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteFile(ctx context.Context, bucket, key string) error
	SignedDownloadURL(bucket, key string, expiry time.Duration) (string, error)
}

type storageService struct {
	log    *logger.Logger
	client *storage.Client
}

func NewStorageService(log *logger.Logger) (StorageService, error) {
	serviceLog := log.With("service", "StorageService")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &storageService{log: serviceLog, client: client}, nil
}

func (ss *storageService) UploadBytes(ctx context.Context, bucket, key string, data []byte) error {
	return ss.UploadFile(ctx, bucket, key, strings.NewReader(string(data)))
}

func (ss *storageService) UploadFile(ctx context.Context, bucket, key string, file io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := ss.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ChunkSize = uploadChunkSize
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// DownloadBytes returns nil with no error when the object does not exist, so
// callers can treat absence as "no data yet" without unwrapping.
func (ss *storageService) DownloadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := ss.DownloadFile(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %q: %w", key, err)
	}
	return data, nil
}

// readCloserWithCancel ties the download context's lifetime to the reader's.
// Cancelling before the caller finishes reading would truncate the stream.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (ss *storageService) DownloadFile(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Minute)

	r, err := ss.client.Bucket(bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, storage.ErrObjectNotExist
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}

	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// Exists reports whether the object is present. Any lookup failure counts as
// absent; callers use this for cache probes where a false negative only costs
// a recomputation.
func (ss *storageService) Exists(ctx context.Context, bucket, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := ss.client.Bucket(bucket).Object(key).Attrs(ctx)
	return err == nil
}

func (ss *storageService) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := ss.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (ss *storageService) DeleteFile(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := ss.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bucket, err)
	}
	return nil
}

func (ss *storageService) SignedDownloadURL(bucket, key string, expiry time.Duration) (string, error) {
	url, err := ss.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %q: %w", key, err)
	}
	return url, nil
}

// BlobURI joins path segments into a gs:// URI, dropping empty segments and
// stray slashes.
func BlobURI(bucket string, segments ...string) string {
	parts := []string{strings.Trim(bucket, "/")}
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return "gs://" + strings.Join(parts, "/")
}

// JoinKey builds an object key from segments, dropping empty ones.
func JoinKey(segments ...string) string {
	parts := []string{}
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}
