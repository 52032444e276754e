package constants

import (
	"mime"
	"path/filepath"
	"strings"
)

// MediaTypes maps a file extension to the Evolution API media type.
var MediaTypes = map[string]string{
	"pdf":  "document",
	"doc":  "document",
	"docx": "document",
	"xls":  "document",
	"xlsx": "document",
	"txt":  "document",
	"jpg":  "image",
	"jpeg": "image",
	"png":  "image",
	"gif":  "image",
	"mp4":  "video",
	"avi":  "video",
	"mov":  "video",
	"mp3":  "audio",
	"wav":  "audio",
	"ogg":  "audio",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MediaTypeFor returns the channel media type for a file path,
// defaulting to document.
func MediaTypeFor(path string) string {
	if mt, ok := MediaTypes[NormalizeExt(filepath.Ext(path))]; ok {
		return mt
	}
	return "document"
}

// MIMETypeFor resolves the MIME type for a file path, defaulting to
// application/octet-stream.
func MIMETypeFor(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
