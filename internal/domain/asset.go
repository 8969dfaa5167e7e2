package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Asset lifecycle statuses. Transitions only ever move forward; once bytes
// are confirmed present the asset never returns to DRAFT.
const (
	AssetStatusDraft      = "DRAFT"
	AssetStatusProcessing = "PROCESSING"
	AssetStatusClean      = "CLEAN"
	AssetStatusInfected   = "INFECTED"
	AssetStatusFailed     = "FAILED"
	AssetStatusArchived   = "ARCHIVED"
)

// Scan statuses. "skipped" is reachable only with the scan backend explicitly
// disabled; never in a default configuration.
const (
	ScanStatusNotScanned = "not_scanned"
	ScanStatusScanning   = "scanning"
	ScanStatusClean      = "clean"
	ScanStatusInfected   = "infected"
	ScanStatusFailed     = "scan_failed"
	ScanStatusSkipped    = "skipped"
)

// Preview variant names, fixed set.
const (
	PreviewSizeSmall  = "small"
	PreviewSizeMedium = "medium"
	PreviewSizeLarge  = "large"
)

type Asset struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	GroupID     *uuid.UUID `gorm:"type:uuid;index" json:"group_id,omitempty"`

	FileName      string `gorm:"column:file_name;not null" json:"file_name"`
	StorageKey    string `gorm:"column:storage_key;not null;uniqueIndex" json:"storage_key"`
	MimeType      string `gorm:"column:mime_type;not null" json:"mime_type"`
	DeclaredBytes int64  `gorm:"column:declared_bytes;not null" json:"declared_bytes"`
	SizeBytes     int64  `gorm:"column:size_bytes" json:"size_bytes"`

	Status     string `gorm:"column:status;not null;default:'DRAFT';index" json:"status"`
	ScanStatus string `gorm:"column:scan_status;not null;default:'not_scanned'" json:"scan_status"`

	Title       string         `gorm:"column:title" json:"title"`
	Description string         `gorm:"column:description" json:"description"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	// Derivative outputs, populated by the derivative worker only.
	PreviewKeys    datatypes.JSON `gorm:"column:preview_keys;type:jsonb" json:"preview_keys"`
	Width          int            `gorm:"column:width" json:"width,omitempty"`
	Height         int            `gorm:"column:height" json:"height,omitempty"`
	DerivativeDone bool           `gorm:"column:derivative_done;not null;default:false" json:"derivative_done"`

	Version   int            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Asset) TableName() string { return "asset" }

// TerminalScanStatus reports whether the scan lifecycle has reached an end
// state for this asset.
func (a *Asset) TerminalScanStatus() bool {
	switch a.ScanStatus {
	case ScanStatusClean, ScanStatusInfected, ScanStatusFailed, ScanStatusSkipped:
		return true
	default:
		return false
	}
}

// DerivativeRequired reports whether the asset's content type has a defined
// derivative. Documents and audio complete as no-op successes.
func (a *Asset) DerivativeRequired() bool {
	return MediaCategory(a.MimeType) == MediaCategoryImage || MediaCategory(a.MimeType) == MediaCategoryVideo
}
