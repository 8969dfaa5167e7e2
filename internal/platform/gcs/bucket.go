package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

// ObjectAttrs is the subset of blob metadata the pipeline relies on.
type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// ErrObjectNotExist is returned by Stat and Download when no object is stored
// at the key.
var ErrObjectNotExist = errors.New("object does not exist")

// BucketService is the boundary to the blob store. Clients never stream bytes
// through this process: writes and reads happen against short-lived signed
// URLs scoped to a single object key.
type BucketService interface {
	SignedUploadURL(ctx context.Context, key, contentType string, maxBytes int64, ttl time.Duration) (string, time.Time, error)
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
	Stat(ctx context.Context, key string) (*ObjectAttrs, error)
	Delete(ctx context.Context, key string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key, contentType string, r io.Reader) error
}

type bucketService struct {
	log          *logger.Logger
	client       *storage.Client
	bucketName   string
	emulatorHost string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(os.Getenv("ASSET_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var ASSET_GCS_BUCKET_NAME")
	}
	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")

	ctx := context.Background()
	var client *storage.Client
	var err error
	if emulatorHost != "" {
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized",
		"bucket", bucketName,
		"emulator_host", emulatorHost,
	)

	return &bucketService{
		log:          serviceLog,
		client:       client,
		bucketName:   bucketName,
		emulatorHost: emulatorHost,
	}, nil
}

func (bs *bucketService) SignedUploadURL(ctx context.Context, key, contentType string, maxBytes int64, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	if bs.emulatorHost != "" {
		return bs.emulatorObjectUploadURL(key), expires, nil
	}
	u, err := bs.client.Bucket(bs.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		Expires:     expires,
		ContentType: contentType,
		Headers:     []string{fmt.Sprintf("x-goog-content-length-range:0,%d", maxBytes)},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign upload url for %q: %w", key, err)
	}
	return u, expires, nil
}

func (bs *bucketService) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	if bs.emulatorHost != "" {
		return bs.emulatorObjectMediaURL(key), expires, nil
	}
	u, err := bs.client.Bucket(bs.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download url for %q: %w", key, err)
	}
	return u, expires, nil
}

func (bs *bucketService) Stat(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.client.Bucket(bs.bucketName).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (bs *bucketService) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := bs.client.Bucket(bs.bucketName).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		// Deletes must be idempotent for the janitor.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete object %q in bucket %q: %w", key, bs.bucketName, err)
	}
	return nil
}

func (bs *bucketService) Upload(ctx context.Context, key, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := bs.client.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to bucket: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close bucket writer: %w", err)
	}
	return nil
}

// Do NOT `defer cancel()` before returning the reader: the context would be
// canceled immediately and callers would read 0 bytes. The cancel is attached
// to the reader's Close() instead.
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

func (bs *bucketService) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := bs.client.Bucket(bs.bucketName).Object(key).NewReader(ctx2)
	if errors.Is(err, storage.ErrObjectNotExist) {
		cancel()
		return nil, ErrObjectNotExist
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open bucket reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) emulatorObjectMediaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		bs.emulatorHost,
		url.PathEscape(bs.bucketName),
		url.PathEscape(key),
	)
}

func (bs *bucketService) emulatorObjectUploadURL(key string) string {
	return fmt.Sprintf(
		"%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		bs.emulatorHost,
		url.PathEscape(bs.bucketName),
		url.QueryEscape(key),
	)
}
