package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/backoff"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

type JobRepo interface {
	// Enqueue creates a queued job for (asset, kind). If a queued or running
	// job already exists for the pair it is returned unchanged, so a retried
	// confirmation cannot enqueue the same work twice.
	Enqueue(dbc dbctx.Context, assetID uuid.UUID, kind string) (*types.Job, error)
	// ClaimNextRunnable leases one job of the given kind: either queued and
	// due, or running with an expired lease (worker died mid-job). Uses
	// SKIP LOCKED so concurrent workers never contend on the same row.
	ClaimNextRunnable(dbc dbctx.Context, kind string, lease time.Duration) (*types.Job, error)
	Complete(dbc dbctx.Context, id uuid.UUID) error
	// Fail reschedules the job with exponential backoff, or marks it dead
	// when permanent or out of attempts. Returns true when the job is dead.
	Fail(dbc dbctx.Context, job *types.Job, permanent bool, maxAttempts int, policy backoff.Policy, cause string) (bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	HasActive(dbc dbctx.Context, assetID uuid.UUID, kind string) (bool, error)
	ListDead(dbc dbctx.Context, limit int) ([]*types.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Enqueue(dbc dbctx.Context, assetID uuid.UUID, kind string) (*types.Job, error) {
	if assetID == uuid.Nil || kind == "" {
		return nil, errors.New("asset id and kind are required")
	}
	var job *types.Job
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var existing types.Job
		qErr := txx.
			Where("asset_id = ? AND kind = ? AND status IN ?", assetID, kind,
				[]string{types.JobStatusQueued, types.JobStatusRunning}).
			Limit(1).
			Find(&existing).Error
		if qErr != nil {
			return qErr
		}
		if existing.ID != uuid.Nil {
			job = &existing
			return nil
		}
		created := &types.Job{
			ID:        uuid.New(),
			AssetID:   assetID,
			Kind:      kind,
			Status:    types.JobStatusQueued,
			NextRunAt: time.Now(),
		}
		if cErr := txx.Create(created).Error; cErr != nil {
			return cErr
		}
		job = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, kind string, lease time.Duration) (*types.Job, error) {
	now := time.Now()
	leaseUntil := now.Add(lease)
	var claimed *types.Job
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        kind = ?
        AND (
          (status = ? AND next_run_at <= ?)
          OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?)
        )
      `, kind, types.JobStatusQueued, now, types.JobStatusRunning, now).
			Order("next_run_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":           types.JobStatusRunning,
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_expires_at": leaseUntil,
				"updated_at":       now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LeaseExpiresAt = &leaseUntil
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) Complete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           types.JobStatusSucceeded,
			"lease_expires_at": nil,
			"updated_at":       time.Now(),
		}).Error
}

func (r *jobRepo) Fail(dbc dbctx.Context, job *types.Job, permanent bool, maxAttempts int, policy backoff.Policy, cause string) (bool, error) {
	if job == nil || job.ID == uuid.Nil {
		return false, errors.New("job is nil")
	}
	now := time.Now()
	dead := permanent || job.Attempts >= maxAttempts
	updates := map[string]interface{}{
		"last_error":       cause,
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if dead {
		// Dead jobs stay visible for operator attention, never silently
		// dropped.
		updates["status"] = types.JobStatusDead
	} else {
		updates["status"] = types.JobStatusQueued
		updates["next_run_at"] = now.Add(policy.Delay(job.Attempts))
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", job.ID).
		Updates(updates).Error
	if err != nil {
		return false, err
	}
	return dead, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) HasActive(dbc dbctx.Context, assetID uuid.UUID, kind string) (bool, error) {
	if assetID == uuid.Nil {
		return false, nil
	}
	var count int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("asset_id = ? AND kind = ? AND status IN ?", assetID, kind,
			[]string{types.JobStatusQueued, types.JobStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRepo) ListDead(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	var out []*types.Job
	if limit <= 0 {
		limit = 100
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("status = ?", types.JobStatusDead).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
