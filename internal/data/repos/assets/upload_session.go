package assets

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

type UploadSessionRepo interface {
	Create(dbc dbctx.Context, session *types.UploadSession) (*types.UploadSession, error)
	GetByAssetID(dbc dbctx.Context, assetID uuid.UUID) (*types.UploadSession, error)
	DeleteByAssetID(dbc dbctx.Context, assetID uuid.UUID) error
	ListExpired(dbc dbctx.Context, now time.Time, limit int) ([]*types.UploadSession, error)
}

type uploadSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadSessionRepo(db *gorm.DB, baseLog *logger.Logger) UploadSessionRepo {
	return &uploadSessionRepo{db: db, log: baseLog.With("repo", "UploadSessionRepo")}
}

func (r *uploadSessionRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *uploadSessionRepo) Create(dbc dbctx.Context, session *types.UploadSession) (*types.UploadSession, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *uploadSessionRepo) GetByAssetID(dbc dbctx.Context, assetID uuid.UUID) (*types.UploadSession, error) {
	if assetID == uuid.Nil {
		return nil, nil
	}
	var session types.UploadSession
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.AssetID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *uploadSessionRepo) DeleteByAssetID(dbc dbctx.Context, assetID uuid.UUID) error {
	if assetID == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Delete(&types.UploadSession{}).Error
}

func (r *uploadSessionRepo) ListExpired(dbc dbctx.Context, now time.Time, limit int) ([]*types.UploadSession, error) {
	var out []*types.UploadSession
	if limit <= 0 {
		limit = 100
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
