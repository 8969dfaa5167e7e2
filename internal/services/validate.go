package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
)

const (
	maxFileNameLen    = 255
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxMetadataBytes  = 8 << 10
	maxMetadataKeys   = 32
	maxMetadataDepth  = 3
)

var fileNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ -]*$`)

// sanitizeFileName validates the declared name and returns the form used in
// the storage key. Keys are derived from asset id + this name, so anything
// that could traverse or collide is rejected outright.
func sanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apierr.InvalidFilename("empty")
	}
	if len(name) > maxFileNameLen {
		return "", apierr.InvalidFilename(fmt.Sprintf("longer than %d characters", maxFileNameLen))
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", apierr.InvalidFilename("path separators are not allowed")
	}
	if !fileNameRe.MatchString(name) {
		return "", apierr.InvalidFilename("only letters, digits, dot, dash, underscore and space are allowed")
	}
	return strings.ReplaceAll(name, " ", "_"), nil
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apierr.InvalidArgument("title is required")
	}
	if len(title) > maxTitleLen {
		return apierr.InvalidArgument(fmt.Sprintf("title longer than %d characters", maxTitleLen))
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > maxDescriptionLen {
		return apierr.InvalidArgument(fmt.Sprintf("description longer than %d characters", maxDescriptionLen))
	}
	return nil
}

// validateMetadata bounds the opaque metadata map in size, key count and
// nesting depth. Contents are never interpreted here.
func validateMetadata(meta map[string]interface{}) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	if len(meta) > maxMetadataKeys {
		return nil, apierr.InvalidArgument(fmt.Sprintf("metadata has more than %d keys", maxMetadataKeys))
	}
	if d := mapDepth(meta, 1); d > maxMetadataDepth {
		return nil, apierr.InvalidArgument(fmt.Sprintf("metadata nested deeper than %d levels", maxMetadataDepth))
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, apierr.InvalidArgument("metadata is not serializable")
	}
	if len(raw) > maxMetadataBytes {
		return nil, apierr.InvalidArgument(fmt.Sprintf("metadata larger than %d bytes", maxMetadataBytes))
	}
	return raw, nil
}

func mapDepth(v interface{}, depth int) int {
	max := depth
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			if d := mapDepth(child, depth+1); d > max {
				max = d
			}
		}
	case []interface{}:
		for _, child := range t {
			if d := mapDepth(child, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}
