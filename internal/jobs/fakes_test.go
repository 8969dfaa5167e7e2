package jobs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/scanner"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeBucket) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeBucket) SignedUploadURL(ctx context.Context, key, contentType string, maxBytes int64, ttl time.Duration) (string, time.Time, error) {
	return "https://fake.test/upload/" + key, time.Now().Add(ttl), nil
}

func (f *fakeBucket) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return "https://fake.test/download/" + key, time.Now().Add(ttl), nil
}

func (f *fakeBucket) Stat(ctx context.Context, key string) (*gcs.ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return &gcs.ObjectAttrs{Size: int64(len(data)), Updated: time.Now()}, nil
}

func (f *fakeBucket) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBucket) Upload(ctx context.Context, key, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.put(key, data)
	return nil
}

// fakeScanBackend returns a canned verdict or error.
type fakeScanBackend struct {
	verdict *scanner.Verdict
	err     error
	enabled bool
}

func (f *fakeScanBackend) Enabled() bool { return f.enabled }

func (f *fakeScanBackend) Scan(ctx context.Context, r io.Reader) (*scanner.Verdict, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type fakeQuota struct {
	mu       sync.Mutex
	released map[uuid.UUID]int64
}

func newFakeQuota() *fakeQuota {
	return &fakeQuota{released: map[uuid.UUID]int64{}}
}

func (f *fakeQuota) Reserve(ctx context.Context, ownerID uuid.UUID, declaredBytes int64) error {
	return nil
}

func (f *fakeQuota) Release(ctx context.Context, ownerID uuid.UUID, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[ownerID] += bytes
	return nil
}

func (f *fakeQuota) MaxObjectBytes() int64 { return 100 << 20 }

func (f *fakeQuota) releasedFor(ownerID uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[ownerID]
}
