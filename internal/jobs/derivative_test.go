package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	"github.com/assetforge/assetforge-backend/internal/data/repos/testutil"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func seedProcessingImage(t *testing.T, ctx context.Context, tx *gorm.DB, bucket *fakeBucket, w, h int) *types.Asset {
	t.Helper()
	asset := testutil.SeedAsset(t, ctx, tx, uuid.New(), types.AssetStatusProcessing)
	bucket.put(asset.StorageKey, encodeTestJPEG(t, w, h))
	return asset
}

func TestDerivativeHandlerGeneratesPreviews(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))
	bucket := newFakeBucket()

	asset := seedProcessingImage(t, ctx, tx, bucket, 2000, 1000)

	h := NewDerivativeHandler(testutil.Logger(t), repo, bucket)
	if err := h.Run(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, asset.ID)
	if err != nil || got == nil {
		t.Fatalf("load asset: %v", err)
	}
	if !got.DerivativeDone {
		t.Fatal("derivative not settled")
	}
	if got.Width != 2000 || got.Height != 1000 {
		t.Fatalf("dimensions = %dx%d, want 2000x1000", got.Width, got.Height)
	}

	var keys map[string]string
	if err := json.Unmarshal(got.PreviewKeys, &keys); err != nil {
		t.Fatalf("decode preview keys: %v", err)
	}
	for _, size := range []string{types.PreviewSizeSmall, types.PreviewSizeMedium, types.PreviewSizeLarge} {
		key, ok := keys[size]
		if !ok {
			t.Fatalf("no %s preview key", size)
		}
		if !bucket.has(key) {
			t.Fatalf("%s preview object missing at %q", size, key)
		}
	}

	// Scaled output respects the max edge and aspect ratio.
	rc, err := bucket.Download(ctx, keys[types.PreviewSizeSmall])
	if err != nil {
		t.Fatalf("download preview: %v", err)
	}
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if cfg.Width != 160 || cfg.Height != 80 {
		t.Fatalf("small preview = %dx%d, want 160x80", cfg.Width, cfg.Height)
	}
}

func TestDerivativeHandlerPromotesAfterCleanScan(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))
	bucket := newFakeBucket()

	asset := seedProcessingImage(t, ctx, tx, bucket, 64, 64)
	// Scan verdict arrived first; derivative completion should finish the
	// promotion regardless of order.
	if _, err := repo.TransitionScan(dbctx.Context{Ctx: ctx}, asset.ID,
		[]string{types.ScanStatusNotScanned},
		map[string]interface{}{"scan_status": types.ScanStatusClean}); err != nil {
		t.Fatalf("record clean scan: %v", err)
	}

	h := NewDerivativeHandler(testutil.Logger(t), repo, bucket)
	if err := h.Run(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, asset.ID)
	if err != nil || got == nil {
		t.Fatalf("load asset: %v", err)
	}
	if got.Status != types.AssetStatusClean {
		t.Fatalf("status = %q, want CLEAN", got.Status)
	}
}

func TestDerivativeHandlerRedeliveryPromotesAfterSettle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))

	// Worker died between settling the derivative and promoting: the asset is
	// left PROCESSING with both sides of the promotion rule satisfied.
	asset := testutil.SeedAsset(t, ctx, tx, uuid.New(), types.AssetStatusProcessing)
	if err := repo.UpdateFields(dbctx.Context{Ctx: ctx}, asset.ID, map[string]interface{}{
		"scan_status":     types.ScanStatusClean,
		"derivative_done": true,
	}); err != nil {
		t.Fatalf("seed crash window: %v", err)
	}

	h := NewDerivativeHandler(testutil.Logger(t), repo, newFakeBucket())
	if err := h.Run(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative}); err != nil {
		t.Fatalf("re-run: %v", err)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, asset.ID)
	if err != nil || got == nil {
		t.Fatalf("load asset: %v", err)
	}
	if got.Status != types.AssetStatusClean {
		t.Fatalf("status = %q, want CLEAN after re-delivered promotion", got.Status)
	}
}

func TestDerivativeHandlerNonImageSettlesWithoutPreviews(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))
	bucket := newFakeBucket()

	asset := testutil.SeedAsset(t, ctx, tx, uuid.New(), types.AssetStatusProcessing)
	if err := tx.Model(asset).UpdateColumn("mime_type", "application/pdf").Error; err != nil {
		t.Fatalf("set mime: %v", err)
	}

	h := NewDerivativeHandler(testutil.Logger(t), repo, bucket)
	if err := h.Run(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, asset.ID)
	if err != nil || got == nil {
		t.Fatalf("load asset: %v", err)
	}
	if !got.DerivativeDone {
		t.Fatal("derivative not settled for non-image asset")
	}
	if len(got.PreviewKeys) > 0 {
		t.Fatalf("unexpected preview keys %s", got.PreviewKeys)
	}
}

func TestDerivativeHandlerUndecodableImageIsPermanent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))
	bucket := newFakeBucket()

	asset := testutil.SeedAsset(t, ctx, tx, uuid.New(), types.AssetStatusProcessing)
	bucket.put(asset.StorageKey, []byte("not an image"))

	h := NewDerivativeHandler(testutil.Logger(t), repo, bucket)
	err := h.Run(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !IsPermanent(err) {
		t.Fatalf("error %v should be permanent", err)
	}
}

func TestDerivativeHandlerOnExhaustedDoesNotBlockClean(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := repoassets.NewAssetRepo(tx, testutil.Logger(t))
	bucket := newFakeBucket()

	asset := testutil.SeedAsset(t, ctx, tx, uuid.New(), types.AssetStatusProcessing)
	if _, err := repo.TransitionScan(dbctx.Context{Ctx: ctx}, asset.ID,
		[]string{types.ScanStatusNotScanned},
		map[string]interface{}{"scan_status": types.ScanStatusClean}); err != nil {
		t.Fatalf("record clean scan: %v", err)
	}

	h := NewDerivativeHandler(testutil.Logger(t), repo, bucket)
	h.OnExhausted(ctx, &types.Job{ID: uuid.New(), AssetID: asset.ID, Kind: types.JobKindDerivative})

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, asset.ID)
	if err != nil || got == nil {
		t.Fatalf("load asset: %v", err)
	}
	if got.Status != types.AssetStatusClean {
		t.Fatalf("status = %q, want CLEAN despite abandoned derivatives", got.Status)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(got.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if _, ok := meta["derivative_error"]; !ok {
		t.Fatal("abandonment not stamped into metadata")
	}
}
