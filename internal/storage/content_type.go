package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType determines the MIME type of an upload. A provided type
// wins unless it is empty or the generic octet-stream; then the filename
// extension is tried, then the first 512 bytes of data. data may be nil.
func DetectContentType(providedType, filename string, data io.Reader) string {
	if bt := baseType(providedType); bt != "" && bt != "application/octet-stream" {
		return providedType
	}

	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); contentType != "" {
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

// BlockedUploadTypes are MIME types never accepted as form uploads.
var BlockedUploadTypes = map[string]bool{
	"application/x-msdownload":                      true,
	"application/x-msdos-program":                   true,
	"application/x-executable":                      true,
	"application/x-sh":                              true,
	"application/x-httpd-php":                       true,
	"application/java-archive":                      true,
	"application/vnd.microsoft.portable-executable": true,
}

// baseType strips parameters such as charset from a content type.
func baseType(contentType string) string {
	return strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
}

// IsAllowedUploadType checks if a content type may be stored as a form upload.
func IsAllowedUploadType(contentType string) bool {
	bt := baseType(contentType)
	return bt != "" && !BlockedUploadTypes[bt]
}

// preferredExtensions overrides mime.ExtensionsByType, whose first answer is
// often surprising (".jpe" for image/jpeg).
var preferredExtensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/jpg":          ".jpg",
	"image/png":          ".png",
	"image/webp":         ".webp",
	"image/gif":          ".gif",
	"text/csv":           ".csv",
	"text/plain":         ".txt",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

func extensionForContentType(contentType string) string {
	bt := baseType(contentType)
	if ext, ok := preferredExtensions[bt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(bt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
