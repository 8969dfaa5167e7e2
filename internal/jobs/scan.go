package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/platform/scanner"
)

// ScanHandler consumes scan jobs: it streams the stored object through the
// scanning backend and writes the verdict atomically with the asset's
// scan_status transition.
type ScanHandler struct {
	log       *logger.Logger
	assetRepo repoassets.AssetRepo
	bucket    gcs.BucketService
	backend   scanner.Backend
}

func NewScanHandler(baseLog *logger.Logger, assetRepo repoassets.AssetRepo, bucket gcs.BucketService, backend scanner.Backend) *ScanHandler {
	return &ScanHandler{
		log:       baseLog.With("handler", "ScanHandler"),
		assetRepo: assetRepo,
		bucket:    bucket,
		backend:   backend,
	}
}

func (h *ScanHandler) Kind() string { return types.JobKindScan }

func (h *ScanHandler) Run(ctx context.Context, job *types.Job) error {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := h.assetRepo.GetByID(dbc, job.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		// Deleted while queued; nothing left to scan.
		return nil
	}
	if asset.TerminalScanStatus() {
		// Re-delivered job after a lease expiry; the verdict already landed,
		// but the promotion that follows it may not have.
		if _, err := h.assetRepo.PromoteCleanIfReady(dbc, asset.ID); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		return nil
	}

	if !h.backend.Enabled() {
		// Explicit non-production configuration only.
		if _, err := h.assetRepo.TransitionScan(dbc, asset.ID,
			[]string{types.ScanStatusNotScanned, types.ScanStatusScanning},
			map[string]interface{}{"scan_status": types.ScanStatusSkipped}); err != nil {
			return fmt.Errorf("mark skipped: %w", err)
		}
		if _, err := h.assetRepo.PromoteCleanIfReady(dbc, asset.ID); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		return nil
	}

	if _, err := h.assetRepo.TransitionScan(dbc, asset.ID,
		[]string{types.ScanStatusNotScanned},
		map[string]interface{}{"scan_status": types.ScanStatusScanning}); err != nil {
		return fmt.Errorf("mark scanning: %w", err)
	}

	rc, err := h.bucket.Download(ctx, asset.StorageKey)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return Permanent(fmt.Errorf("object missing at %q", asset.StorageKey))
	}
	if err != nil {
		return fmt.Errorf("download object: %w", err)
	}
	defer rc.Close()

	verdict, err := h.backend.Scan(ctx, rc)
	if err != nil {
		// Backend error, not a content verdict: transient, retried with
		// backoff by the dispatcher.
		return fmt.Errorf("scan backend: %w", err)
	}

	meta, err := mergeMetadata(asset.Metadata, "scan", map[string]interface{}{
		"engine":     verdict.Engine,
		"version":    verdict.Version,
		"threats":    verdict.Threats,
		"scanned_at": verdict.ScannedAt,
	})
	if err != nil {
		return fmt.Errorf("merge scan metadata: %w", err)
	}

	switch verdict.Status {
	case scanner.VerdictClean:
		if _, err := h.assetRepo.TransitionScan(dbc, asset.ID,
			[]string{types.ScanStatusNotScanned, types.ScanStatusScanning},
			map[string]interface{}{
				"scan_status": types.ScanStatusClean,
				"metadata":    meta,
			}); err != nil {
			return fmt.Errorf("record clean verdict: %w", err)
		}
		if _, err := h.assetRepo.PromoteCleanIfReady(dbc, asset.ID); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		h.log.Info("Asset scanned clean", "asset_id", asset.ID, "engine", verdict.Engine)
		return nil
	case scanner.VerdictInfected:
		// scan_status and status move in the same record update: there is no
		// window where an infected asset is downloadable.
		if _, err := h.assetRepo.TransitionScan(dbc, asset.ID,
			[]string{types.ScanStatusNotScanned, types.ScanStatusScanning},
			map[string]interface{}{
				"scan_status": types.ScanStatusInfected,
				"status":      types.AssetStatusInfected,
				"metadata":    meta,
			}); err != nil {
			return fmt.Errorf("record infected verdict: %w", err)
		}
		h.log.Warn("Asset infected",
			"asset_id", asset.ID,
			"engine", verdict.Engine,
			"threats", verdict.Threats,
		)
		return nil
	default:
		return Permanent(fmt.Errorf("unknown verdict %q", verdict.Status))
	}
}

// OnExhausted records a terminal scan failure: never silently cleared, and
// the asset as a whole is failed.
func (h *ScanHandler) OnExhausted(ctx context.Context, job *types.Job) {
	dbc := dbctx.Context{Ctx: ctx}
	moved, err := h.assetRepo.TransitionScan(dbc, job.AssetID,
		[]string{types.ScanStatusNotScanned, types.ScanStatusScanning},
		map[string]interface{}{
			"scan_status": types.ScanStatusFailed,
			"status":      types.AssetStatusFailed,
		})
	if err != nil {
		h.log.Error("Failed to record scan exhaustion", "error", err, "asset_id", job.AssetID)
		return
	}
	if moved {
		h.log.Error("Asset failed after scan retries exhausted", "asset_id", job.AssetID)
	}
}

func mergeMetadata(current datatypes.JSON, key string, value interface{}) (datatypes.JSON, error) {
	out := map[string]interface{}{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &out); err != nil {
			out = map[string]interface{}{}
		}
	}
	out[key] = value
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
