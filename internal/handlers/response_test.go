package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
)

func performWithError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/boom", func(c *gin.Context) {
		RespondError(c, err)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestRespondErrorUsesStableCodes(t *testing.T) {
	rec := performWithError(t, apierr.SizeMismatch(4096, 100))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Error.Code != apierr.CodeSizeMismatch {
		t.Fatalf("code = %q, want SIZE_MISMATCH", envelope.Error.Code)
	}
	if envelope.Error.Detail["observed_bytes"] == nil {
		t.Fatal("detail missing observed_bytes")
	}
}

func TestRespondErrorHidesInternalCauses(t *testing.T) {
	rec := performWithError(t, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Error.Code != apierr.CodeInternal {
		t.Fatalf("code = %q, want INTERNAL", envelope.Error.Code)
	}
	if envelope.Error.Message != "internal error" {
		t.Fatalf("message %q leaks the cause", envelope.Error.Message)
	}
}
