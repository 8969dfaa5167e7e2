package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

type ListAssetsInput struct {
	Status   string
	GroupID  *uuid.UUID
	MimeType string
	Limit    int
	Offset   int
}

type AssetService interface {
	Get(ctx context.Context, requesterID, assetID uuid.UUID) (*types.Asset, error)
	List(ctx context.Context, requesterID uuid.UUID, in ListAssetsInput) ([]*types.Asset, error)
	// Delete archives the asset, removes its object and derivatives from the
	// bucket, and compensates the owner's quota byte counter.
	Delete(ctx context.Context, requesterID, assetID uuid.UUID) error
}

type assetService struct {
	db        *gorm.DB
	log       *logger.Logger
	bucket    gcs.BucketService
	quota     QuotaService
	catalog   Catalog
	assetRepo repoassets.AssetRepo
}

func NewAssetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	bucket gcs.BucketService,
	quota QuotaService,
	catalog Catalog,
	assetRepo repoassets.AssetRepo,
) AssetService {
	return &assetService{
		db:        db,
		log:       baseLog.With("service", "AssetService"),
		bucket:    bucket,
		quota:     quota,
		catalog:   catalog,
		assetRepo: assetRepo,
	}
}

func (s *assetService) Get(ctx context.Context, requesterID, assetID uuid.UUID) (*types.Asset, error) {
	asset, err := s.assetRepo.GetByID(dbctx.Context{Ctx: ctx}, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset")
	}
	if !s.catalog.Authorize(ctx, requesterID, asset.OwnerUserID, ActionRead) {
		return nil, apierr.Forbidden()
	}
	return asset, nil
}

func (s *assetService) List(ctx context.Context, requesterID uuid.UUID, in ListAssetsInput) ([]*types.Asset, error) {
	if requesterID == uuid.Nil {
		return nil, apierr.Forbidden()
	}
	out, err := s.assetRepo.List(dbctx.Context{Ctx: ctx}, requesterID, repoassets.ListFilter{
		Status:   in.Status,
		GroupID:  in.GroupID,
		MimeType: in.MimeType,
	}, in.Limit, in.Offset)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

func (s *assetService) Delete(ctx context.Context, requesterID, assetID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := s.assetRepo.GetByID(dbc, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return apierr.NotFound("asset")
	}
	if !s.catalog.Authorize(ctx, requesterID, asset.OwnerUserID, ActionDelete) {
		return apierr.Forbidden()
	}

	licensed, err := s.catalog.HasActiveLicenses(ctx, assetID)
	if err != nil {
		return fmt.Errorf("check licenses: %w", err)
	}
	if licensed {
		return apierr.HasActiveLicenses()
	}

	// Archive before touching the bucket: a failed transaction must not leave
	// a live record whose object is already gone.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, tErr := s.assetRepo.Transition(txc, assetID,
			[]string{types.AssetStatusDraft, types.AssetStatusProcessing, types.AssetStatusClean,
				types.AssetStatusInfected, types.AssetStatusFailed},
			map[string]interface{}{"status": types.AssetStatusArchived}); tErr != nil {
			return tErr
		}
		return s.assetRepo.SoftDeleteByID(txc, assetID)
	})
	if err != nil {
		return fmt.Errorf("archive asset: %w", err)
	}

	if err := s.bucket.Delete(ctx, asset.StorageKey); err != nil {
		s.log.Warn("Failed to delete archived object", "error", err, "asset_id", assetID, "storage_key", asset.StorageKey)
	}
	for _, key := range previewKeyList(asset) {
		if err := s.bucket.Delete(ctx, key); err != nil {
			s.log.Warn("Failed to delete preview object", "error", err, "asset_id", assetID, "storage_key", key)
		}
	}

	// Compensating quota update, keyed to the size actually recorded.
	released := asset.SizeBytes
	if released == 0 {
		released = asset.DeclaredBytes
	}
	if qErr := s.quota.Release(ctx, asset.OwnerUserID, released); qErr != nil {
		s.log.Warn("Failed to release quota after delete", "error", qErr, "asset_id", assetID)
	}

	s.log.Info("Asset deleted", "asset_id", assetID, "owner_user_id", asset.OwnerUserID)
	return nil
}
