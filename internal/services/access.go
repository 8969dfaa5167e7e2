package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

type SignedAccess struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessService mints short-lived read credentials for confirmed, clean
// assets. Links expire in minutes and are scoped to one object key, forcing
// re-issuance rather than long-lived URLs.
type AccessService interface {
	DownloadURL(ctx context.Context, requesterID, assetID uuid.UUID) (*SignedAccess, error)
	PreviewURL(ctx context.Context, requesterID, assetID uuid.UUID, size string) (*SignedAccess, error)
}

type accessService struct {
	log       *logger.Logger
	bucket    gcs.BucketService
	catalog   Catalog
	assetRepo repoassets.AssetRepo
	urlTTL    time.Duration
}

func NewAccessService(
	baseLog *logger.Logger,
	bucket gcs.BucketService,
	catalog Catalog,
	assetRepo repoassets.AssetRepo,
) AccessService {
	log := baseLog.With("service", "AccessService")
	return &accessService{
		log:       log,
		bucket:    bucket,
		catalog:   catalog,
		assetRepo: assetRepo,
		urlTTL:    utils.GetEnvAsDuration("ACCESS_URL_TTL", 10*time.Minute, log),
	}
}

func (s *accessService) DownloadURL(ctx context.Context, requesterID, assetID uuid.UUID) (*SignedAccess, error) {
	asset, err := s.loadAuthorized(ctx, requesterID, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != types.AssetStatusClean {
		return nil, apierr.NotReady(fmt.Sprintf("status is %s", asset.Status))
	}
	url, expires, err := s.bucket.SignedDownloadURL(ctx, asset.StorageKey, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("issue read credential: %w", err)
	}
	return &SignedAccess{URL: url, ExpiresAt: expires}, nil
}

func (s *accessService) PreviewURL(ctx context.Context, requesterID, assetID uuid.UUID, size string) (*SignedAccess, error) {
	switch size {
	case types.PreviewSizeSmall, types.PreviewSizeMedium, types.PreviewSizeLarge:
	default:
		return nil, apierr.InvalidArgument(fmt.Sprintf("unknown preview size %q", size))
	}
	asset, err := s.loadAuthorized(ctx, requesterID, assetID)
	if err != nil {
		return nil, err
	}
	// Previews of an infected or failed asset are never served, but a still
	// PROCESSING asset whose derivative landed first is fine.
	switch asset.Status {
	case types.AssetStatusClean, types.AssetStatusProcessing:
	default:
		return nil, apierr.NotReady(fmt.Sprintf("status is %s", asset.Status))
	}
	key := previewKey(asset, size)
	if key == "" {
		return nil, apierr.NotReady("preview has not been generated yet")
	}
	url, expires, err := s.bucket.SignedDownloadURL(ctx, key, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("issue read credential: %w", err)
	}
	return &SignedAccess{URL: url, ExpiresAt: expires}, nil
}

func (s *accessService) loadAuthorized(ctx context.Context, requesterID, assetID uuid.UUID) (*types.Asset, error) {
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

func previewKey(asset *types.Asset, size string) string {
	keys := decodePreviewKeys(asset)
	return keys[size]
}

func previewKeyList(asset *types.Asset) []string {
	keys := decodePreviewKeys(asset)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func decodePreviewKeys(asset *types.Asset) map[string]string {
	out := map[string]string{}
	if asset == nil || len(asset.PreviewKeys) == 0 {
		return out
	}
	if err := json.Unmarshal(asset.PreviewKeys, &out); err != nil {
		return map[string]string{}
	}
	return out
}
