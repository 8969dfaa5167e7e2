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

// ListFilter narrows List queries. Zero values mean "no filter".
type ListFilter struct {
	Status   string
	GroupID  *uuid.UUID
	MimeType string
}

type AssetRepo interface {
	Create(dbc dbctx.Context, asset *types.Asset) (*types.Asset, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Asset, error)
	List(dbc dbctx.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) ([]*types.Asset, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// Transition is a compare-and-set on status: the update applies only if
	// the record is still in one of fromStatuses. Returns false when the
	// state changed underneath the caller.
	Transition(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error)
	// TransitionScan is the same compare-and-set keyed on scan_status.
	TransitionScan(dbc dbctx.Context, id uuid.UUID, fromScanStatuses []string, updates map[string]interface{}) (bool, error)
	// PromoteCleanIfReady moves PROCESSING -> CLEAN once the scan verdict is
	// clean and the derivative side is settled. Safe to call from either
	// worker in any order.
	PromoteCleanIfReady(dbc dbctx.Context, id uuid.UUID) (bool, error)

	SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error
	ListByStatusBefore(dbc dbctx.Context, statuses []string, before time.Time, limit int) ([]*types.Asset, error)
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: baseLog.With("repo", "AssetRepo")}
}

func (r *assetRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *assetRepo) Create(dbc dbctx.Context, asset *types.Asset) (*types.Asset, error) {
	if asset == nil {
		return nil, errors.New("asset is nil")
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *assetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Asset, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var asset types.Asset
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&asset).Error
	if err != nil {
		return nil, err
	}
	if asset.ID == uuid.Nil {
		return nil, nil
	}
	return &asset, nil
}

func (r *assetRepo) List(dbc dbctx.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) ([]*types.Asset, error) {
	var out []*types.Asset
	if ownerID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.GroupID != nil {
		q = q.Where("group_id = ?", *filter.GroupID)
	}
	if filter.MimeType != "" {
		q = q.Where("mime_type = ?", filter.MimeType)
	}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Asset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *assetRepo) Transition(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(fromStatuses) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now()
	updates["version"] = gorm.Expr("version + 1")
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Asset{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assetRepo) TransitionScan(dbc dbctx.Context, id uuid.UUID, fromScanStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(fromScanStatuses) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now()
	updates["version"] = gorm.Expr("version + 1")
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Asset{}).
		Where("id = ? AND scan_status IN ?", id, fromScanStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assetRepo) PromoteCleanIfReady(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	// derivative_done is also set true for content types with no derivative
	// and for derivative jobs abandoned after retry exhaustion, so a clean
	// scan verdict alone is enough once the derivative side has settled.
	// scan_status=skipped qualifies only because it is unreachable outside
	// an explicit non-production configuration.
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Asset{}).
		Where("id = ? AND status = ? AND scan_status IN ? AND derivative_done = true",
			id, types.AssetStatusProcessing, []string{types.ScanStatusClean, types.ScanStatusSkipped}).
		Updates(map[string]interface{}{
			"status":     types.AssetStatusClean,
			"updated_at": time.Now(),
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assetRepo) SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Asset{}).Error
}

func (r *assetRepo) ListByStatusBefore(dbc dbctx.Context, statuses []string, before time.Time, limit int) ([]*types.Asset, error) {
	var out []*types.Asset
	if len(statuses) == 0 {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
