package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"gorm.io/datatypes"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

// Max edge in pixels per preview variant.
var previewEdges = map[string]int{
	types.PreviewSizeSmall:  160,
	types.PreviewSizeMedium: 480,
	types.PreviewSizeLarge:  1024,
}

// DerivativeHandler produces the fixed set of preview variants for image
// assets plus pixel dimensions. Content types without a defined derivative
// complete as no-op successes; completion never gates CLEAN promotion on its
// own, it only settles the derivative side of the promotion rule.
type DerivativeHandler struct {
	log       *logger.Logger
	assetRepo repoassets.AssetRepo
	bucket    gcs.BucketService
}

func NewDerivativeHandler(baseLog *logger.Logger, assetRepo repoassets.AssetRepo, bucket gcs.BucketService) *DerivativeHandler {
	return &DerivativeHandler{
		log:       baseLog.With("handler", "DerivativeHandler"),
		assetRepo: assetRepo,
		bucket:    bucket,
	}
}

func (h *DerivativeHandler) Kind() string { return types.JobKindDerivative }

func (h *DerivativeHandler) Run(ctx context.Context, job *types.Job) error {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := h.assetRepo.GetByID(dbc, job.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return nil
	}
	if asset.DerivativeDone {
		// Re-delivered after a lease expiry; the settle committed, the
		// promotion that follows it may not have.
		if _, err := h.assetRepo.PromoteCleanIfReady(dbc, asset.ID); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		return nil
	}

	category := types.MediaCategory(asset.MimeType)
	if category != types.MediaCategoryImage {
		// Documents and audio have no derivative; video frame extraction is
		// delegated to an external transcoder and recorded as settled here.
		return h.settle(dbc, asset.ID, nil, 0, 0)
	}

	rc, err := h.bucket.Download(ctx, asset.StorageKey)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return Permanent(fmt.Errorf("object missing at %q", asset.StorageKey))
	}
	if err != nil {
		return fmt.Errorf("download object: %w", err)
	}
	defer rc.Close()

	src, _, err := image.Decode(rc)
	if err != nil {
		return Permanent(fmt.Errorf("decode image: %w", err))
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	previews := map[string]string{}
	for size, edge := range previewEdges {
		scaled := scaleToEdge(src, edge)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
			return Permanent(fmt.Errorf("encode %s preview: %w", size, err))
		}
		key := fmt.Sprintf("previews/%s/%s.jpg", asset.ID, size)
		if err := h.uploadPreview(ctx, key, &buf); err != nil {
			return fmt.Errorf("upload %s preview: %w", size, err)
		}
		previews[size] = key
	}

	return h.settle(dbc, asset.ID, previews, width, height)
}

func (h *DerivativeHandler) uploadPreview(ctx context.Context, key string, r io.Reader) error {
	return h.bucket.Upload(ctx, key, "image/jpeg", r)
}

func (h *DerivativeHandler) settle(dbc dbctx.Context, assetID uuid.UUID, previews map[string]string, width, height int) error {
	updates := map[string]interface{}{"derivative_done": true}
	if len(previews) > 0 {
		raw, err := json.Marshal(previews)
		if err != nil {
			return fmt.Errorf("marshal preview keys: %w", err)
		}
		updates["preview_keys"] = datatypes.JSON(raw)
		updates["width"] = width
		updates["height"] = height
	}
	if err := h.assetRepo.UpdateFields(dbc, assetID, updates); err != nil {
		return fmt.Errorf("record derivatives: %w", err)
	}
	if _, err := h.assetRepo.PromoteCleanIfReady(dbc, assetID); err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	h.log.Info("Derivatives settled", "asset_id", assetID, "previews", len(previews))
	return nil
}

// OnExhausted abandons derivative generation without blocking CLEAN
// promotion: the derivative side is marked settled with no keys, and the
// abandonment is stamped into metadata for audit.
func (h *DerivativeHandler) OnExhausted(ctx context.Context, job *types.Job) {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := h.assetRepo.GetByID(dbc, job.AssetID)
	if err != nil || asset == nil {
		return
	}
	meta, err := mergeMetadata(asset.Metadata, "derivative_error", "generation abandoned after retries")
	if err != nil {
		meta = asset.Metadata
	}
	if uErr := h.assetRepo.UpdateFields(dbc, asset.ID, map[string]interface{}{
		"derivative_done": true,
		"metadata":        meta,
	}); uErr != nil {
		h.log.Error("Failed to record derivative exhaustion", "error", uErr, "asset_id", asset.ID)
		return
	}
	if _, pErr := h.assetRepo.PromoteCleanIfReady(dbc, asset.ID); pErr != nil {
		h.log.Error("Failed to promote after derivative exhaustion", "error", pErr, "asset_id", asset.ID)
	}
}

func scaleToEdge(src image.Image, edge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= edge && h <= edge {
		return src
	}
	var dw, dh int
	if w >= h {
		dw = edge
		dh = h * edge / w
	} else {
		dh = edge
		dw = w * edge / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
