// Package photo stores profile photos and hands back their public URLs.
package photo

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/starhunters/internal/apperror"
)

// MaxSize is the largest accepted upload, in bytes.
const MaxSize = 5 << 20

// Store uploads an object and returns a URL a browser can load it from.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Key returns a fresh object key for a photo of userID. The extension is
// taken from filename, or from contentType when filename has none.
func Key(userID, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("photos/%s/%s%s", userID, uuid.NewString(), ext)
}

// Validate checks an upload before it is sent anywhere.
func Validate(size int64, contentType string) error {
	if size <= 0 {
		return apperror.ValidationFailed("photo", "file is empty")
	}
	if size > MaxSize {
		return apperror.ValidationFailed("photo", "file must be 5MB or smaller")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return apperror.ValidationFailed("photo", "file must be an image")
	}
	return nil
}
