package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
)

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		code string
	}{
		{"plain", "portrait.jpg", "portrait.jpg", ""},
		{"spaces become underscores", "my holiday photo.png", "my_holiday_photo.png", ""},
		{"empty", "", "", apierr.CodeInvalidFilename},
		{"traversal", "../../etc/passwd", "", apierr.CodeInvalidFilename},
		{"slash", "a/b.jpg", "", apierr.CodeInvalidFilename},
		{"backslash", `a\b.jpg`, "", apierr.CodeInvalidFilename},
		{"leading dot", ".hidden", "", apierr.CodeInvalidFilename},
		{"control chars", "a\x00b.jpg", "", apierr.CodeInvalidFilename},
		{"too long", strings.Repeat("a", 256) + ".jpg", "", apierr.CodeInvalidFilename},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sanitizeFileName(tc.in)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tc.want {
					t.Fatalf("got %q, want %q", got, tc.want)
				}
				return
			}
			var ae *apierr.Error
			if !errors.As(err, &ae) || ae.Code != tc.code {
				t.Fatalf("error = %v, want code %s", err, tc.code)
			}
		})
	}
}

func TestValidateTitle(t *testing.T) {
	if err := validateTitle("Sunset over the bay"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validateTitle("  "); err == nil {
		t.Fatal("blank title accepted")
	}
	if err := validateTitle(strings.Repeat("x", 201)); err == nil {
		t.Fatal("overlong title accepted")
	}
}

func TestValidateMetadata(t *testing.T) {
	raw, err := validateMetadata(map[string]interface{}{"camera": "X100V", "iso": 400})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected serialized metadata")
	}

	raw, err = validateMetadata(nil)
	if err != nil || raw != nil {
		t.Fatalf("nil metadata: raw=%v err=%v", raw, err)
	}

	tooMany := map[string]interface{}{}
	for i := 0; i < 33; i++ {
		tooMany[strings.Repeat("k", i+1)] = i
	}
	if _, err := validateMetadata(tooMany); err == nil {
		t.Fatal("metadata with too many keys accepted")
	}

	deep := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": map[string]interface{}{"d": 1},
			},
		},
	}
	if _, err := validateMetadata(deep); err == nil {
		t.Fatal("overly nested metadata accepted")
	}

	big := map[string]interface{}{"blob": strings.Repeat("x", 9<<10)}
	if _, err := validateMetadata(big); err == nil {
		t.Fatal("oversized metadata accepted")
	}
}
