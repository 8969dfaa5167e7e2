package types

import "strings"

// Media categories admitted by the upload allow-list.
const (
	MediaCategoryImage    = "image"
	MediaCategoryVideo    = "video"
	MediaCategoryDocument = "document"
	MediaCategoryAudio    = "audio"
	MediaCategoryUnknown  = ""
)

var allowedMimeTypes = map[string]string{
	"image/jpeg":      MediaCategoryImage,
	"image/png":       MediaCategoryImage,
	"image/gif":       MediaCategoryImage,
	"image/webp":      MediaCategoryImage,
	"video/mp4":       MediaCategoryVideo,
	"video/webm":      MediaCategoryVideo,
	"video/quicktime": MediaCategoryVideo,
	"application/pdf": MediaCategoryDocument,
	"text/plain":      MediaCategoryDocument,
	"audio/mpeg":      MediaCategoryAudio,
	"audio/wav":       MediaCategoryAudio,
	"audio/ogg":       MediaCategoryAudio,
}

// MediaCategory maps a declared mime type onto its category, or
// MediaCategoryUnknown when the type is not on the allow-list.
func MediaCategory(mimeType string) string {
	return allowedMimeTypes[strings.ToLower(strings.TrimSpace(mimeType))]
}
