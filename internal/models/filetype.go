package models

import (
	"mime"
	"strings"
	"unicode/utf8"
)

// FileType is the closed set of file categories a package can allow
type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeImage FileType = "IMAGE"
	FileTypeVideo FileType = "VIDEO"
	FileTypeAudio FileType = "AUDIO"
)

// AllFileTypes lists every supported file type in display order
var AllFileTypes = []FileType{FileTypePDF, FileTypeImage, FileTypeVideo, FileTypeAudio}

// Valid reports whether ft is a supported file type
func (ft FileType) Valid() bool {
	switch ft {
	case FileTypePDF, FileTypeImage, FileTypeVideo, FileTypeAudio:
		return true
	}
	return false
}

var mimeToFileType = map[string]FileType{
	"image/jpeg":    FileTypeImage,
	"image/png":     FileTypeImage,
	"image/gif":     FileTypeImage,
	"image/webp":    FileTypeImage,
	"image/svg+xml": FileTypeImage,

	"video/mp4":       FileTypeVideo,
	"video/mpeg":      FileTypeVideo,
	"video/quicktime": FileTypeVideo,
	"video/x-msvideo": FileTypeVideo,
	"video/webm":      FileTypeVideo,

	"application/pdf": FileTypePDF,

	"audio/mpeg": FileTypeAudio,
	"audio/wav":  FileTypeAudio,
	"audio/ogg":  FileTypeAudio,
	"audio/mp4":  FileTypeAudio,
	"audio/aac":  FileTypeAudio,
	"audio/webm": FileTypeAudio,
}

// FileTypeFromMIME maps a MIME type to its file type. Parameters such as
// "; charset=..." are ignored, malformed ones included.
func FileTypeFromMIME(mimeType string) (FileType, bool) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil && mediaType == "" {
		return "", false
	}
	ft, ok := mimeToFileType[mediaType]
	return ft, ok
}

// JoinFileTypes renders a list of file types as "A, B, C"
func JoinFileTypes(types []FileType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// MaxNameLength is the longest folder or file name accepted
const MaxNameLength = 255

// ValidName reports whether name is non-empty and at most MaxNameLength characters
func ValidName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n > 0 && n <= MaxNameLength
}
