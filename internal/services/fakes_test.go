package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
)

func dbcFor(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

// fakeBucket keeps objects in memory and mints deterministic URLs.
type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	signErr   error
	deleteErr error
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
	if f.signErr != nil {
		return "", time.Time{}, f.signErr
	}
	return "https://fake.test/upload/" + key, time.Now().Add(ttl), nil
}

func (f *fakeBucket) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if f.signErr != nil {
		return "", time.Time{}, f.signErr
	}
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
	if f.deleteErr != nil {
		return f.deleteErr
	}
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

// fakeQuota records reservations instead of talking to Redis.
type fakeQuota struct {
	mu       sync.Mutex
	reserved map[uuid.UUID]int64
	denyWith error
}

func newFakeQuota() *fakeQuota {
	return &fakeQuota{reserved: map[uuid.UUID]int64{}}
}

func (f *fakeQuota) Reserve(ctx context.Context, ownerID uuid.UUID, declaredBytes int64) error {
	if f.denyWith != nil {
		return f.denyWith
	}
	if declaredBytes <= 0 {
		return fmt.Errorf("declared bytes must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[ownerID] += declaredBytes
	return nil
}

func (f *fakeQuota) Release(ctx context.Context, ownerID uuid.UUID, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[ownerID] -= bytes
	if f.reserved[ownerID] < 0 {
		f.reserved[ownerID] = 0
	}
	return nil
}

func (f *fakeQuota) MaxObjectBytes() int64 { return 100 << 20 }

func (f *fakeQuota) reservedFor(ownerID uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved[ownerID]
}
