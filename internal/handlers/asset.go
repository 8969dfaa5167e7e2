package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/requestdata"
	"github.com/assetforge/assetforge-backend/internal/services"
)

type AssetHandler struct {
	assetService  services.AssetService
	accessService services.AccessService
}

func NewAssetHandler(assetService services.AssetService, accessService services.AccessService) *AssetHandler {
	return &AssetHandler{assetService: assetService, accessService: accessService}
}

// Get handles GET /api/assets/:id.
func (ah *AssetHandler) Get(c *gin.Context) {
	rd, assetID, ok := ah.identityAndID(c)
	if !ok {
		return
	}
	asset, err := ah.assetService.Get(c.Request.Context(), rd.UserID, assetID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"asset": asset})
}

// List handles GET /api/assets.
func (ah *AssetHandler) List(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	in := services.ListAssetsInput{
		Status:   c.Query("status"),
		MimeType: c.Query("mime_type"),
	}
	if raw := c.Query("group_id"); raw != "" {
		groupID, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, apierr.InvalidArgument("group_id is not a uuid"))
			return
		}
		in.GroupID = &groupID
	}
	in.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	in.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	assets, err := ah.assetService.List(c.Request.Context(), rd.UserID, in)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"assets": assets})
}

// Delete handles DELETE /api/assets/:id.
func (ah *AssetHandler) Delete(c *gin.Context) {
	rd, assetID, ok := ah.identityAndID(c)
	if !ok {
		return
	}
	if err := ah.assetService.Delete(c.Request.Context(), rd.UserID, assetID); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadURL handles GET /api/assets/:id/download-url.
func (ah *AssetHandler) DownloadURL(c *gin.Context) {
	rd, assetID, ok := ah.identityAndID(c)
	if !ok {
		return
	}
	access, err := ah.accessService.DownloadURL(c.Request.Context(), rd.UserID, assetID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, access)
}

// PreviewURL handles GET /api/assets/:id/preview-url?size=.
func (ah *AssetHandler) PreviewURL(c *gin.Context) {
	rd, assetID, ok := ah.identityAndID(c)
	if !ok {
		return
	}
	access, err := ah.accessService.PreviewURL(c.Request.Context(), rd.UserID, assetID, c.Query("size"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, access)
}

func (ah *AssetHandler) identityAndID(c *gin.Context) (*requestdata.RequestData, uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.InvalidArgument("asset id is not a uuid"))
		return nil, uuid.Nil, false
	}
	return rd, assetID, true
}
