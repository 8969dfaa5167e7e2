package services

import (
	"context"

	"github.com/google/uuid"
)

// Actions checked against the catalog collaborator.
const (
	ActionRead   = "read"
	ActionDelete = "delete"
)

// Catalog is the external collaborator owning business metadata, licensing,
// and cross-user grants. The pipeline only consults it at its boundary.
type Catalog interface {
	Authorize(ctx context.Context, requesterID, assetOwnerID uuid.UUID, action string) bool
	HasActiveLicenses(ctx context.Context, assetID uuid.UUID) (bool, error)
	// ValidateGroupRef confirms a grouping reference exists and is visible
	// to the owner.
	ValidateGroupRef(ctx context.Context, ownerID, groupID uuid.UUID) (bool, error)
}

// ownerOnlyCatalog is the default stand-in until a real catalog service is
// wired: owners may act on their own assets, nothing is licensed, and any
// group reference is accepted.
type ownerOnlyCatalog struct{}

func NewOwnerOnlyCatalog() Catalog { return &ownerOnlyCatalog{} }

func (c *ownerOnlyCatalog) Authorize(ctx context.Context, requesterID, assetOwnerID uuid.UUID, action string) bool {
	return requesterID != uuid.Nil && requesterID == assetOwnerID
}

func (c *ownerOnlyCatalog) HasActiveLicenses(ctx context.Context, assetID uuid.UUID) (bool, error) {
	return false, nil
}

func (c *ownerOnlyCatalog) ValidateGroupRef(ctx context.Context, ownerID, groupID uuid.UUID) (bool, error) {
	return true, nil
}
