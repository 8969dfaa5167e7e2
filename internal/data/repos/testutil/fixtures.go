package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/assetforge/assetforge-backend/internal/domain"
)

func SeedAsset(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status string) *types.Asset {
	tb.Helper()
	a := &types.Asset{
		ID:            uuid.New(),
		OwnerUserID:   ownerID,
		FileName:      "portrait.jpg",
		MimeType:      "image/jpeg",
		DeclaredBytes: 2048576,
		Status:        status,
		ScanStatus:    types.ScanStatusNotScanned,
		Version:       1,
	}
	a.StorageKey = "assets/" + ownerID.String() + "/" + a.ID.String() + "/portrait.jpg"
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return a
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, asset *types.Asset, ttl time.Duration) *types.UploadSession {
	tb.Helper()
	s := &types.UploadSession{
		AssetID:       asset.ID,
		OwnerUserID:   asset.OwnerUserID,
		DeclaredBytes: asset.DeclaredBytes,
		MimeType:      asset.MimeType,
		ExpiresAt:     time.Now().Add(ttl),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, assetID uuid.UUID, kind, status string) *types.Job {
	tb.Helper()
	j := &types.Job{
		ID:        uuid.New(),
		AssetID:   assetID,
		Kind:      kind,
		Status:    status,
		NextRunAt: time.Now(),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}
