package config

import (
	"mime"
	"path/filepath"
)

// fallback covers the handful of extensions mime.TypeByExtension does not
// know about on a minimal system (it consults /etc/mime.types when
// present, which is not guaranteed in a container).
var fallback = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".xml":  "application/xml",
	".wasm": "application/wasm",
}

// MIMEType returns the content type for a file path based on its
// extension, defaulting to application/octet-stream.
func MIMEType(path string) string {
	ext := filepath.Ext(path)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := fallback[ext]; ok {
		return t
	}
	return "application/octet-stream"
}
