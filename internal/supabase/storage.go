package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Bucket stores objects in one Supabase Storage bucket. It implements
// photo.Store for public profile photos.
type Bucket struct {
	client *Client
	name   string
}

// Storage returns the storage API for bucket.
func (c *Client) Storage(bucket string) *Bucket {
	return &Bucket{client: c, name: bucket}
}

// Put uploads r under key, replacing any existing object, and returns its public URL.
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.name, key), r)
	if err != nil {
		return "", fmt.Errorf("supabase: creating upload request: %w", err)
	}
	b.client.setHeaders(req)
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if _, err := b.client.do(req); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return b.PublicURL(key), nil
}

// PublicURL returns the URL of key in a public bucket.
func (b *Bucket) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.name, strings.TrimPrefix(key, "/"))
}
