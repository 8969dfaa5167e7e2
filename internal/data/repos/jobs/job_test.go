package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/assetforge/assetforge-backend/internal/data/repos/testutil"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/backoff"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
)

func TestJobRepoEnqueueIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	assetID := uuid.New()
	first, err := repo.Enqueue(dbc, assetID, types.JobKindScan)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := repo.Enqueue(dbc, assetID, types.JobKindScan)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("retried enqueue created a second job for the same (asset, kind)")
	}

	// A different kind for the same asset is distinct work.
	other, err := repo.Enqueue(dbc, assetID, types.JobKindDerivative)
	if err != nil {
		t.Fatalf("enqueue derivative: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("derivative job collided with scan job")
	}
}

func TestJobRepoClaimNextRunnable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	seeded := testutil.SeedJob(t, ctx, tx, uuid.New(), types.JobKindScan, types.JobStatusQueued)

	claimed, err := repo.ClaimNextRunnable(dbc, types.JobKindScan, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != seeded.ID {
		t.Fatal("expected to claim the seeded job")
	}
	if claimed.Status != types.JobStatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed status=%q attempts=%d", claimed.Status, claimed.Attempts)
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.After(time.Now()) {
		t.Fatal("claim did not set a future lease")
	}

	// While leased the job is invisible to other pollers.
	again, err := repo.ClaimNextRunnable(dbc, types.JobKindScan, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if again != nil {
		t.Fatal("claimed a job whose lease is still live")
	}
}

func TestJobRepoClaimReclaimsExpiredLease(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	stuck := testutil.SeedJob(t, ctx, tx, uuid.New(), types.JobKindScan, types.JobStatusRunning)
	past := time.Now().Add(-time.Minute)
	if err := tx.Model(stuck).UpdateColumn("lease_expires_at", past).Error; err != nil {
		t.Fatalf("expire lease: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, types.JobKindScan, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != stuck.ID {
		t.Fatal("expected the expired-lease job to be reclaimed")
	}
}

func TestJobRepoFailReschedulesThenDies(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	job := testutil.SeedJob(t, ctx, tx, uuid.New(), types.JobKindScan, types.JobStatusRunning)
	job.Attempts = 1

	policy := backoff.Policy{Base: 10 * time.Second, Max: 10 * time.Minute}
	dead, err := repo.Fail(dbc, job, false, 5, policy, "scanner timeout")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if dead {
		t.Fatal("first transient failure must not kill the job")
	}
	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.JobStatusQueued {
		t.Fatalf("status = %q, want queued", got.Status)
	}
	if !got.NextRunAt.After(time.Now()) {
		t.Fatal("transient failure did not push next_run_at into the future")
	}
	if got.LastError != "scanner timeout" {
		t.Fatalf("last_error = %q", got.LastError)
	}

	got.Attempts = 5
	dead, err = repo.Fail(dbc, got, false, 5, policy, "scanner timeout")
	if err != nil {
		t.Fatalf("fail at max attempts: %v", err)
	}
	if !dead {
		t.Fatal("job at max attempts must die")
	}

	deadJobs, err := repo.ListDead(dbc, 10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != job.ID {
		t.Fatal("dead job is not surfaced by ListDead")
	}
}

func TestJobRepoFailPermanentDiesImmediately(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	job := testutil.SeedJob(t, ctx, tx, uuid.New(), types.JobKindDerivative, types.JobStatusRunning)
	job.Attempts = 1

	dead, err := repo.Fail(dbc, job, true, 5, backoff.Default, "undecodable image")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !dead {
		t.Fatal("permanent failure must die on the first attempt")
	}
}
