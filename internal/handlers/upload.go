package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/requestdata"
	"github.com/assetforge/assetforge-backend/internal/services"
)

type UploadHandler struct {
	uploadService services.UploadService
}

func NewUploadHandler(uploadService services.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

type initiateUploadRequest struct {
	FileName  string `json:"file_name" binding:"required"`
	SizeBytes int64  `json:"size_bytes" binding:"required"`
	MimeType  string `json:"mime_type" binding:"required"`
	GroupID   string `json:"group_id"`
}

type confirmUploadRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Initiate handles POST /api/uploads.
func (uh *UploadHandler) Initiate(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.InvalidArgument(err.Error()))
		return
	}
	in := services.InitiateUploadInput{
		FileName:      req.FileName,
		DeclaredBytes: req.SizeBytes,
		MimeType:      req.MimeType,
	}
	if req.GroupID != "" {
		groupID, err := uuid.Parse(req.GroupID)
		if err != nil {
			RespondError(c, apierr.InvalidArgument("group_id is not a uuid"))
			return
		}
		in.GroupID = &groupID
	}
	result, err := uh.uploadService.Initiate(c.Request.Context(), rd.UserID, in)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Confirm handles POST /api/uploads/:id/confirm.
func (uh *UploadHandler) Confirm(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.InvalidArgument("asset id is not a uuid"))
		return
	}
	var req confirmUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.InvalidArgument(err.Error()))
		return
	}
	asset, err := uh.uploadService.Confirm(c.Request.Context(), rd.UserID, assetID, services.ConfirmUploadInput{
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"asset": asset})
}
