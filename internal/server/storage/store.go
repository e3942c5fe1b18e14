// Package storage issues presigned upload credentials and deletes stored
// objects. The only production implementation is S3-compatible storage.
package storage

import (
	"context"
	"time"
)

// UploadCredential lets a client write exactly one object directly to
// storage. Fields must be submitted as multipart form fields alongside the
// file; the embedded policy enforces the key, content type and size range.
type UploadCredential struct {
	URL       string
	Method    string
	Fields    map[string]string
	ExpiresAt time.Time
}

// ObjectStore is the storage surface the media lifecycle needs.
type ObjectStore interface {
	IssueUploadCredential(ctx context.Context, key, contentType string, minSize, maxSize int64, ttl time.Duration) (*UploadCredential, error)
	DeleteObject(ctx context.Context, key string) error
}
