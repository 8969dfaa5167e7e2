package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	repojobs "github.com/assetforge/assetforge-backend/internal/data/repos/jobs"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

type InitiateUploadInput struct {
	FileName      string
	DeclaredBytes int64
	MimeType      string
	GroupID       *uuid.UUID
}

type InitiateUploadResult struct {
	AssetID         uuid.UUID `json:"asset_id"`
	StorageKey      string    `json:"storage_key"`
	UploadURL       string    `json:"upload_url"`
	UploadExpiresAt time.Time `json:"upload_expires_at"`
}

type ConfirmUploadInput struct {
	Title       string
	Description string
	Metadata    map[string]interface{}
}

// UploadService is the credential issuer and completion confirmer. No asset
// bytes ever pass through it: clients write straight to the bucket with a
// scoped signed URL and report back.
type UploadService interface {
	Initiate(ctx context.Context, ownerID uuid.UUID, in InitiateUploadInput) (*InitiateUploadResult, error)
	Confirm(ctx context.Context, requesterID, assetID uuid.UUID, in ConfirmUploadInput) (*types.Asset, error)
}

type uploadService struct {
	db          *gorm.DB
	log         *logger.Logger
	bucket      gcs.BucketService
	quota       QuotaService
	catalog     Catalog
	assetRepo   repoassets.AssetRepo
	sessionRepo repoassets.UploadSessionRepo
	jobRepo     repojobs.JobRepo
	sessionTTL  time.Duration
}

func NewUploadService(
	db *gorm.DB,
	baseLog *logger.Logger,
	bucket gcs.BucketService,
	quota QuotaService,
	catalog Catalog,
	assetRepo repoassets.AssetRepo,
	sessionRepo repoassets.UploadSessionRepo,
	jobRepo repojobs.JobRepo,
) UploadService {
	log := baseLog.With("service", "UploadService")
	return &uploadService{
		db:          db,
		log:         log,
		bucket:      bucket,
		quota:       quota,
		catalog:     catalog,
		assetRepo:   assetRepo,
		sessionRepo: sessionRepo,
		jobRepo:     jobRepo,
		sessionTTL:  utils.GetEnvAsDuration("UPLOAD_SESSION_TTL", 15*time.Minute, log),
	}
}

func (s *uploadService) Initiate(ctx context.Context, ownerID uuid.UUID, in InitiateUploadInput) (*InitiateUploadResult, error) {
	if ownerID == uuid.Nil {
		return nil, apierr.Forbidden()
	}
	sanitized, err := sanitizeFileName(in.FileName)
	if err != nil {
		return nil, err
	}
	if types.MediaCategory(in.MimeType) == types.MediaCategoryUnknown {
		return nil, apierr.UnsupportedType(in.MimeType)
	}
	if in.GroupID != nil {
		ok, gErr := s.catalog.ValidateGroupRef(ctx, ownerID, *in.GroupID)
		if gErr != nil {
			return nil, fmt.Errorf("validate group ref: %w", gErr)
		}
		if !ok {
			return nil, apierr.NotFound("group")
		}
	}

	// Reserve counts and bytes before anything is created; released again if
	// record creation fails below.
	if err := s.quota.Reserve(ctx, ownerID, in.DeclaredBytes); err != nil {
		return nil, err
	}

	assetID := uuid.New()
	storageKey := fmt.Sprintf("assets/%s/%s/%s", ownerID, assetID, sanitized)

	uploadURL, uploadExpires, err := s.bucket.SignedUploadURL(ctx, storageKey, in.MimeType, in.DeclaredBytes, s.sessionTTL)
	if err != nil {
		s.compensate(ctx, ownerID, in.DeclaredBytes)
		return nil, fmt.Errorf("issue write credential: %w", err)
	}

	asset := &types.Asset{
		ID:            assetID,
		OwnerUserID:   ownerID,
		GroupID:       in.GroupID,
		FileName:      sanitized,
		StorageKey:    storageKey,
		MimeType:      in.MimeType,
		DeclaredBytes: in.DeclaredBytes,
		Status:        types.AssetStatusDraft,
		ScanStatus:    types.ScanStatusNotScanned,
		Version:       1,
	}
	session := &types.UploadSession{
		AssetID:       assetID,
		OwnerUserID:   ownerID,
		DeclaredBytes: in.DeclaredBytes,
		MimeType:      in.MimeType,
		ExpiresAt:     time.Now().Add(s.sessionTTL),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, cErr := s.assetRepo.Create(dbc, asset); cErr != nil {
			return cErr
		}
		if _, cErr := s.sessionRepo.Create(dbc, session); cErr != nil {
			return cErr
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, ownerID, in.DeclaredBytes)
		return nil, fmt.Errorf("create pending upload: %w", err)
	}

	s.log.Info("Upload initiated",
		"asset_id", assetID,
		"owner_user_id", ownerID,
		"storage_key", storageKey,
		"declared_bytes", in.DeclaredBytes,
	)
	return &InitiateUploadResult{
		AssetID:         assetID,
		StorageKey:      storageKey,
		UploadURL:       uploadURL,
		UploadExpiresAt: uploadExpires,
	}, nil
}

func (s *uploadService) compensate(ctx context.Context, ownerID uuid.UUID, bytes int64) {
	if rErr := s.quota.Release(ctx, ownerID, bytes); rErr != nil {
		s.log.Warn("Failed to release quota after aborted initiate", "error", rErr, "owner_user_id", ownerID)
	}
}

func (s *uploadService) Confirm(ctx context.Context, requesterID, assetID uuid.UUID, in ConfirmUploadInput) (*types.Asset, error) {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := s.assetRepo.GetByID(dbc, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset")
	}
	if asset.OwnerUserID != requesterID {
		return nil, apierr.Forbidden()
	}
	// A retry after a dropped response must be safe: once the asset has left
	// DRAFT, confirmation returns current state instead of erroring.
	if asset.Status != types.AssetStatusDraft {
		return asset, nil
	}

	session, err := s.sessionRepo.GetByAssetID(dbc, assetID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.Expired(time.Now()) {
		return nil, apierr.SessionExpired()
	}

	attrs, err := s.bucket.Stat(ctx, asset.StorageKey)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, apierr.NotUploaded()
	}
	if err != nil {
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if attrs.Size != session.DeclaredBytes {
		// Asset stays DRAFT so the client can re-upload and retry
		// confirmation without a new session.
		return nil, apierr.SizeMismatch(session.DeclaredBytes, attrs.Size)
	}

	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, err
	}
	metaRaw, err := validateMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":      types.AssetStatusProcessing,
		"scan_status": types.ScanStatusNotScanned,
		"title":       in.Title,
		"description": in.Description,
		"size_bytes":  attrs.Size,
	}
	if metaRaw != nil {
		updates["metadata"] = datatypes.JSON(metaRaw)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		moved, tErr := s.assetRepo.Transition(txc, assetID, []string{types.AssetStatusDraft}, updates)
		if tErr != nil {
			return tErr
		}
		if !moved {
			// Lost a race with a concurrent confirm; the winner enqueued
			// the jobs.
			return nil
		}
		if dErr := s.sessionRepo.DeleteByAssetID(txc, assetID); dErr != nil {
			return dErr
		}
		if _, jErr := s.jobRepo.Enqueue(txc, assetID, types.JobKindScan); jErr != nil {
			return jErr
		}
		if _, jErr := s.jobRepo.Enqueue(txc, assetID, types.JobKindDerivative); jErr != nil {
			return jErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm upload: %w", err)
	}

	updated, err := s.assetRepo.GetByID(dbc, assetID)
	if err != nil {
		return nil, fmt.Errorf("reload asset: %w", err)
	}
	if updated == nil {
		return nil, apierr.NotFound("asset")
	}
	s.log.Info("Upload confirmed",
		"asset_id", assetID,
		"owner_user_id", requesterID,
		"size_bytes", updated.SizeBytes,
	)
	return updated, nil
}
