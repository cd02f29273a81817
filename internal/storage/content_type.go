package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// videoExtensions covers containers whose MIME type is missing from the
// system tables on minimal images.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// DetectContentType determines the MIME type of a file.
//
// Detection priority:
// 1. providedType, when non-empty
// 2. the file extension
// 3. sniffing the first 512 bytes of data, when data is non-nil
// 4. "application/octet-stream"
func DetectContentType(providedType, filename string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := videoExtensions[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if data != nil {
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}

// AllowedVideoTypes defines the MIME types accepted for uploads.
var AllowedVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/x-m4v":      true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/x-matroska": true,
	"video/webm":       true,
	"video/mpeg":       true,
	// Browsers send this for containers they don't recognise; the decoder
	// has the final word.
	"application/octet-stream": true,
}

// IsAllowedVideoType checks if a content type is an accepted upload format.
func IsAllowedVideoType(contentType string) bool {
	return AllowedVideoTypes[baseType(contentType)]
}

// baseType strips parameters like charset and normalises case.
func baseType(contentType string) string {
	base := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(base))
}
