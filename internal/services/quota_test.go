package services

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/assetforge/assetforge-backend/internal/data/repos/testutil"
	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
)

func quotaFixture(t *testing.T, rateLimit int, window time.Duration, quotaBytes, maxObjectBytes int64) (QuotaService, *goredis.Client) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run quota integration tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	t.Setenv("UPLOAD_RATE_LIMIT", strconv.Itoa(rateLimit))
	t.Setenv("UPLOAD_RATE_WINDOW", window.String())
	t.Setenv("STORAGE_QUOTA_BYTES", strconv.FormatInt(quotaBytes, 10))
	t.Setenv("MAX_OBJECT_BYTES", strconv.FormatInt(maxObjectBytes, 10))

	return NewQuotaService(rdb, testutil.Logger(t)), rdb
}

func cleanupCounters(t *testing.T, rdb *goredis.Client, owner uuid.UUID) {
	t.Helper()
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), rateKey(owner), bytesKey(owner)).Err()
	})
}

func TestQuotaRateLimitResetsAfterWindow(t *testing.T) {
	quota, rdb := quotaFixture(t, 3, 400*time.Millisecond, 1<<30, 1<<20)
	ctx := context.Background()
	owner := uuid.New()
	cleanupCounters(t, rdb, owner)

	for i := 0; i < 3; i++ {
		if err := quota.Reserve(ctx, owner, 1024); err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
	}

	err := quota.Reserve(ctx, owner, 1024)
	if err == nil {
		t.Fatal("reserve past the rate limit succeeded")
	}
	ae := apierr.From(err)
	if ae.Code != apierr.CodeRateLimited {
		t.Fatalf("code = %q, want RATE_LIMITED", ae.Code)
	}

	// A denied reservation has no net effect on either counter.
	if got := rdb.Get(ctx, rateKey(owner)).Val(); got != "3" {
		t.Fatalf("rate counter = %s, want 3 after rollback", got)
	}
	if got := rdb.Get(ctx, bytesKey(owner)).Val(); got != "3072" {
		t.Fatalf("byte counter = %s, want 3072 after rollback", got)
	}

	time.Sleep(500 * time.Millisecond)
	if err := quota.Reserve(ctx, owner, 1024); err != nil {
		t.Fatalf("reserve after window elapsed: %v", err)
	}
}

func TestQuotaByteLimitDeniesAndRollsBackRate(t *testing.T) {
	quota, rdb := quotaFixture(t, 100, time.Minute, 1000, 1<<20)
	ctx := context.Background()
	owner := uuid.New()
	cleanupCounters(t, rdb, owner)

	if err := quota.Reserve(ctx, owner, 600); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	err := quota.Reserve(ctx, owner, 600)
	if err == nil {
		t.Fatal("reserve past the byte quota succeeded")
	}
	if ae := apierr.From(err); ae.Code != apierr.CodeQuotaExceeded {
		t.Fatalf("code = %q, want QUOTA_EXCEEDED", ae.Code)
	}

	if got := rdb.Get(ctx, rateKey(owner)).Val(); got != "1" {
		t.Fatalf("rate counter = %s, want 1 after quota denial", got)
	}
	if got := rdb.Get(ctx, bytesKey(owner)).Val(); got != "600" {
		t.Fatalf("byte counter = %s, want 600 after quota denial", got)
	}

	// The denial did not consume a rate slot, so a fitting upload still goes
	// through.
	if err := quota.Reserve(ctx, owner, 300); err != nil {
		t.Fatalf("reserve within remaining quota: %v", err)
	}
}

func TestQuotaReleaseFloorsAtZero(t *testing.T) {
	quota, rdb := quotaFixture(t, 100, time.Minute, 1<<30, 1<<20)
	ctx := context.Background()
	owner := uuid.New()
	cleanupCounters(t, rdb, owner)

	if err := quota.Reserve(ctx, owner, 2048); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := quota.Release(ctx, owner, 2048); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := rdb.Get(ctx, bytesKey(owner)).Val(); got != "0" {
		t.Fatalf("byte counter = %s, want 0 after release", got)
	}

	// Over-release, as after a size correction, clamps instead of going
	// negative.
	if err := quota.Release(ctx, owner, 4096); err != nil {
		t.Fatalf("over-release: %v", err)
	}
	if got := rdb.Get(ctx, bytesKey(owner)).Val(); got != "0" {
		t.Fatalf("byte counter = %s, want 0 after over-release", got)
	}
}

func TestQuotaRejectsOversizedObjectWithoutCounting(t *testing.T) {
	quota, rdb := quotaFixture(t, 100, time.Minute, 1<<30, 4096)
	ctx := context.Background()
	owner := uuid.New()
	cleanupCounters(t, rdb, owner)

	err := quota.Reserve(ctx, owner, 8192)
	if err == nil {
		t.Fatal("oversized reserve succeeded")
	}
	if ae := apierr.From(err); ae.Code != apierr.CodeObjectTooLarge {
		t.Fatalf("code = %q, want OBJECT_TOO_LARGE", ae.Code)
	}
	if rdb.Exists(ctx, rateKey(owner), bytesKey(owner)).Val() != 0 {
		t.Fatal("oversized reserve touched the counters")
	}
}
