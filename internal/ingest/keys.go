package ingest

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/BanarasDigital/marketingbackend/internal/staging"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// DefaultFolder receives files whose field name matches no rule.
const DefaultFolder = "others"

// Prefix rules are checked before exact names.
var prefixFolders = []struct {
	prefix string
	folder string
}{
	{"content-image", "modules/images"},
	{"content-audio", "modules/audios"},
	{"content-video", "modules/videos"},
	{"content-pdf", "modules/pdfs"},
}

var exactFolders = map[string]string{
	"image":            "courses/images",
	"profileImage":     "users/profileImages",
	"previewVideo":     "courses/previews",
	"downloadBrochure": "courses/brochures",
	"blogImage":        "blogs/coverImages",
	"blogAImages":      "blogs/authorImages",
}

var (
	courseImageField = regexp.MustCompile(`^course-image`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	unsafeChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// FolderForField maps a multipart field name to its storage folder.
func FolderForField(field string) string {
	if field == "" {
		return DefaultFolder
	}
	for _, r := range prefixFolders {
		if strings.HasPrefix(field, r.prefix) {
			return r.folder
		}
	}
	if folder, ok := exactFolders[field]; ok {
		return folder
	}
	if courseImageField.MatchString(field) {
		return "courses/contentBlocks"
	}
	return DefaultFolder
}

// splitName returns the base name and its extension (without the dot).
// A leading dot alone is not an extension.
func splitName(name string) (string, string) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		return "", ""
	}
	ext := path.Ext(base)
	if ext == base {
		return base, ""
	}
	return strings.TrimSuffix(base, ext), strings.TrimPrefix(ext, ".")
}

// SafeBase returns the file name without extension, with whitespace runs
// replaced by "_" and characters outside [a-zA-Z0-9._-] removed.
func SafeBase(name string) string {
	base, _ := splitName(name)
	base = whitespaceRun.ReplaceAllString(base, "_")
	base = unsafeChars.ReplaceAllString(base, "")
	if base == "" {
		return "upload"
	}
	return base
}

var extByMime = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"image/gif":       "gif",
	"video/mp4":       "mp4",
	"audio/mpeg":      "mp3",
	"application/pdf": "pdf",
}

// ExtensionFor returns the lowercased extension of name, guessing from the
// MIME type when there is none and falling back to "bin".
func ExtensionFor(name, mimeType string) string {
	_, ext := splitName(name)
	ext = unsafeChars.ReplaceAllString(strings.ToLower(ext), "")
	if ext != "" {
		return ext
	}
	if guess, ok := extByMime[strings.ToLower(mimeType)]; ok {
		return guess
	}
	return "bin"
}

// ObjectKey builds <folder>/<unixMillis>-<id>-<safeBase>.<ext>.
func ObjectKey(folder string, at time.Time, id, originalName, mimeType string) string {
	return fmt.Sprintf("%s/%d-%s-%s.%s",
		folder, at.UnixMilli(), id, SafeBase(originalName), ExtensionFor(originalName, mimeType))
}

// HLSPrefix is the key prefix of a job's HLS tree.
func HLSPrefix(folder, jobID string) string {
	return folder + "/hls/" + jobID + "/"
}

// DASHPrefix is the key prefix of a job's DASH tree.
func DASHPrefix(folder, jobID string) string {
	return folder + "/dash/" + jobID + "/"
}

// RawKey is where a browser uploads a file before the worker ingests it:
// raw/<field>/<id>/<sanitized name>.
func RawKey(field, id, originalName string) (string, error) {
	if !fieldNamePattern.MatchString(field) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidField, field)
	}
	return fmt.Sprintf("raw/%s/%s/%s", field, id, staging.SanitizeName(originalName)), nil
}

// RawObject identifies a browser upload by the parts of its RawKey.
type RawObject struct {
	Field string
	ID    string
	Name  string
}

// ParseRawKey recovers the field, upload ID and file name from a RawKey.
func ParseRawKey(key string) (RawObject, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "raw" || parts[2] == "" || parts[3] == "" {
		return RawObject{}, fmt.Errorf("%w: %q", models.ErrInvalidKeyFormat, key)
	}
	if !fieldNamePattern.MatchString(parts[1]) {
		return RawObject{}, fmt.Errorf("%w: %q", models.ErrInvalidField, parts[1])
	}
	if !fieldNamePattern.MatchString(parts[2]) {
		return RawObject{}, fmt.Errorf("%w: bad upload id in %q", models.ErrInvalidKeyFormat, key)
	}
	return RawObject{Field: parts[1], ID: parts[2], Name: parts[3]}, nil
}
