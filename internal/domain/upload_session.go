package types

import (
	"time"

	"github.com/google/uuid"
)

// UploadSession is the ephemeral half of an in-flight transfer. Exactly one
// session per asset; deleted on confirmation or reaped by the janitor once
// past ExpiresAt.
type UploadSession struct {
	AssetID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"asset_id"`
	OwnerUserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	DeclaredBytes int64     `gorm:"column:declared_bytes;not null" json:"declared_bytes"`
	MimeType      string    `gorm:"column:mime_type;not null" json:"mime_type"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (UploadSession) TableName() string { return "upload_session" }

func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
