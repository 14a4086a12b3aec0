package upload

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Request limits and defaults.
const (
	DefaultTitle     = "Untitled Video"
	MaxTitleLength   = 100 // characters, platform limit
	DefaultCategory  = "22"
	DefaultPrivacy   = "private"
	DefaultMaxSize   = 500 << 20
	octetStreamMIME  = "application/octet-stream"
	genericVideoMIME = "video/*"
)

// Privacy statuses accepted by the platform.
const (
	PrivacyPrivate  = "private"
	PrivacyUnlisted = "unlisted"
	PrivacyPublic   = "public"
)

// DefaultAllowedTypes is the container allow-list by file extension.
var DefaultAllowedTypes = []string{"mp4", "mov", "avi", "wmv", "webm", "flv", "mkv"}

// mimeExtensions maps declared MIME types to the container extension they
// denote.
var mimeExtensions = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/x-msvideo":  "avi",
	"video/avi":        "avi",
	"video/msvideo":    "avi",
	"video/x-ms-wmv":   "wmv",
	"video/webm":       "webm",
	"video/x-flv":      "flv",
	"video/x-matroska": "mkv",
}

// extensionMIME is the canonical MIME type sent to the platform for each
// extension.
var extensionMIME = map[string]string{
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"wmv":  "video/x-ms-wmv",
	"webm": "video/webm",
	"flv":  "video/x-flv",
	"mkv":  "video/x-matroska",
}

// Request describes one video to publish. Content must support reads at
// arbitrary offsets so a chunk can be re-read on retry.
type Request struct {
	Content     io.ReaderAt
	Size        int64
	ContentType string
	FileName    string
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string
	PlaylistID  string
}

// Rules are the validation limits applied by Validate.
type Rules struct {
	MaxSize         int64
	AllowedTypes    []string
	DefaultPrivacy  string
	DefaultCategory string
}

// DefaultRules returns the stock limits.
func DefaultRules() Rules {
	return Rules{
		MaxSize:         DefaultMaxSize,
		AllowedTypes:    DefaultAllowedTypes,
		DefaultPrivacy:  DefaultPrivacy,
		DefaultCategory: DefaultCategory,
	}
}

// Validate checks req against the rules and returns a normalized copy. It
// performs no I/O. An empty title is replaced with DefaultTitle rather than
// rejected.
func (r Rules) Validate(req Request) (Request, error) {
	if req.Size <= 0 {
		return req, &ValidationError{Field: "size", Err: ErrEmptyFile, Msg: "file has no content"}
	}

	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	if req.Size > maxSize {
		return req, &ValidationError{
			Field: "size",
			Err:   ErrTooLarge,
			Msg:   fmt.Sprintf("%d bytes exceeds the %d byte limit", req.Size, maxSize),
		}
	}

	ext, ok := r.containerType(req.ContentType, req.FileName)
	if !ok {
		return req, &ValidationError{
			Field: "content_type",
			Err:   ErrUnsupportedType,
			Msg:   fmt.Sprintf("%q (%s) is not one of %s", req.FileName, req.ContentType, strings.Join(r.allowed(), ", ")),
		}
	}

	out := req
	out.ContentType = extensionMIME[ext]
	if out.ContentType == "" {
		out.ContentType = genericVideoMIME
	}

	out.Title = NormalizeTitle(req.Title)
	out.Description = norm.NFC.String(req.Description)
	out.Tags = NormalizeTags(req.Tags)
	out.PlaylistID = strings.TrimSpace(req.PlaylistID)

	out.CategoryID = strings.TrimSpace(req.CategoryID)
	if out.CategoryID == "" {
		out.CategoryID = firstNonEmpty(r.DefaultCategory, DefaultCategory)
	}

	privacy := strings.ToLower(strings.TrimSpace(req.Privacy))
	if privacy == "" {
		privacy = firstNonEmpty(r.DefaultPrivacy, DefaultPrivacy)
	}

	switch privacy {
	case PrivacyPrivate, PrivacyUnlisted, PrivacyPublic:
		out.Privacy = privacy
	default:
		return req, &ValidationError{
			Field: "privacy",
			Err:   ErrInvalidPrivacy,
			Msg:   fmt.Sprintf("%q must be private, unlisted or public", req.Privacy),
		}
	}

	return out, nil
}

// containerType resolves the container extension from the declared MIME
// type, falling back to the file extension when the MIME type is generic.
func (r Rules) containerType(contentType, fileName string) (string, bool) {
	allowed := r.allowed()

	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext, contains(allowed, ext)
	}

	if mimeType != "" && mimeType != octetStreamMIME && mimeType != genericVideoMIME {
		return "", false
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))

	return ext, ext != "" && contains(allowed, ext)
}

func (r Rules) allowed() []string {
	if len(r.AllowedTypes) == 0 {
		return DefaultAllowedTypes
	}

	return r.AllowedTypes
}

// NormalizeTitle trims, NFC-normalizes and clamps a title, substituting
// DefaultTitle when nothing is left.
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(norm.NFC.String(title))
	if t == "" {
		return DefaultTitle
	}

	if utf8.RuneCountInString(t) > MaxTitleLength {
		t = strings.TrimSpace(string([]rune(t)[:MaxTitleLength]))
	}

	return t
}

// NormalizeTags trims each tag and drops empties, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))

	for _, tag := range tags {
		if t := strings.TrimSpace(norm.NFC.String(tag)); t != "" {
			out = append(out, t)
		}
	}

	return out
}

// SplitTags parses a comma-joined tag list.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	return NormalizeTags(strings.Split(s, ","))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}

	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}
