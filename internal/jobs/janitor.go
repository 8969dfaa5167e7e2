package jobs

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/services"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

// Janitor periodically reaps abandoned pending uploads and failed assets past
// their retention window. Every delete is idempotent, so overlapping sweeps
// are safe.
type Janitor struct {
	db          *gorm.DB
	log         *logger.Logger
	bucket      gcs.BucketService
	quota       services.QuotaService
	assetRepo   repoassets.AssetRepo
	sessionRepo repoassets.UploadSessionRepo

	interval  time.Duration
	retention time.Duration
	batchSize int
}

func NewJanitor(
	db *gorm.DB,
	baseLog *logger.Logger,
	bucket gcs.BucketService,
	quota services.QuotaService,
	assetRepo repoassets.AssetRepo,
	sessionRepo repoassets.UploadSessionRepo,
) *Janitor {
	log := baseLog.With("component", "Janitor")
	return &Janitor{
		db:          db,
		log:         log,
		bucket:      bucket,
		quota:       quota,
		assetRepo:   assetRepo,
		sessionRepo: sessionRepo,
		interval:    utils.GetEnvAsDuration("JANITOR_INTERVAL", 5*time.Minute, log),
		retention:   utils.GetEnvAsDuration("FAILED_ASSET_RETENTION", 7*24*time.Hour, log),
		batchSize:   utils.GetEnvAsInt("JANITOR_BATCH_SIZE", 100, log),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs both policies once.
func (j *Janitor) Sweep(ctx context.Context) {
	j.reapExpiredSessions(ctx)
	j.reapFailedAssets(ctx)
}

// Policy (a): sessions past TTL whose asset never left DRAFT. The orphaned
// object, if the client wrote one without confirming, is removed too.
func (j *Janitor) reapExpiredSessions(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	sessions, err := j.sessionRepo.ListExpired(dbc, time.Now(), j.batchSize)
	if err != nil {
		j.log.Warn("Failed to list expired sessions", "error", err)
		return
	}
	for _, session := range sessions {
		asset, err := j.assetRepo.GetByID(dbc, session.AssetID)
		if err != nil {
			j.log.Warn("Failed to load asset for expired session", "error", err, "asset_id", session.AssetID)
			continue
		}
		if asset != nil && asset.Status != types.AssetStatusDraft {
			// Confirmed while we were sweeping; session is stale, drop it.
			if err := j.sessionRepo.DeleteByAssetID(dbc, session.AssetID); err != nil {
				j.log.Warn("Failed to drop stale session", "error", err, "asset_id", session.AssetID)
			}
			continue
		}
		if asset != nil {
			if err := j.bucket.Delete(ctx, asset.StorageKey); err != nil {
				j.log.Warn("Failed to delete orphaned object", "error", err, "storage_key", asset.StorageKey)
				continue
			}
		}
		err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txc := dbctx.Context{Ctx: ctx, Tx: tx}
			if dErr := j.sessionRepo.DeleteByAssetID(txc, session.AssetID); dErr != nil {
				return dErr
			}
			if asset == nil {
				return nil
			}
			return j.assetRepo.SoftDeleteByID(txc, asset.ID)
		})
		if err != nil {
			j.log.Warn("Failed to reap expired session", "error", err, "asset_id", session.AssetID)
			continue
		}
		if asset != nil {
			if qErr := j.quota.Release(ctx, asset.OwnerUserID, asset.DeclaredBytes); qErr != nil {
				j.log.Warn("Failed to release quota for reaped upload", "error", qErr, "asset_id", asset.ID)
			}
			j.log.Info("Reaped abandoned upload", "asset_id", asset.ID, "storage_key", asset.StorageKey)
		}
	}
}

// Policy (b): FAILED or INFECTED assets past the retention window lose their
// stored bytes; the soft-deleted record remains as the audit stub.
func (j *Janitor) reapFailedAssets(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	assets, err := j.assetRepo.ListByStatusBefore(dbc,
		[]string{types.AssetStatusFailed, types.AssetStatusInfected},
		time.Now().Add(-j.retention), j.batchSize)
	if err != nil {
		j.log.Warn("Failed to list failed assets", "error", err)
		return
	}
	for _, asset := range assets {
		if err := j.bucket.Delete(ctx, asset.StorageKey); err != nil {
			j.log.Warn("Failed to delete failed asset object", "error", err, "storage_key", asset.StorageKey)
			continue
		}
		previewsGone := true
		for _, key := range previewObjectKeys(asset) {
			if err := j.bucket.Delete(ctx, key); err != nil {
				j.log.Warn("Failed to delete failed asset preview", "error", err, "storage_key", key)
				previewsGone = false
			}
		}
		if !previewsGone {
			// Record stays for the next sweep to retry.
			continue
		}
		if err := j.assetRepo.SoftDeleteByID(dbc, asset.ID); err != nil {
			j.log.Warn("Failed to soft-delete failed asset", "error", err, "asset_id", asset.ID)
			continue
		}
		if qErr := j.quota.Release(ctx, asset.OwnerUserID, asset.SizeBytes); qErr != nil {
			j.log.Warn("Failed to release quota for reaped asset", "error", qErr, "asset_id", asset.ID)
		}
		j.log.Info("Reaped failed asset past retention", "asset_id", asset.ID, "status", asset.Status)
	}
}

func previewObjectKeys(asset *types.Asset) []string {
	if asset == nil || len(asset.PreviewKeys) == 0 {
		return nil
	}
	keys := map[string]string{}
	if err := json.Unmarshal(asset.PreviewKeys, &keys); err != nil {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
