package storage

import "context"

// BlobStore persists opaque image payloads and returns a stable reference
// (a public URL or a storage key) that job records carry instead of inline
// bytes.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ExtFromMIME maps an image MIME type to a file extension, defaulting to jpg.
func ExtFromMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
