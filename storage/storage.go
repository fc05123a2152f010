// Package storage puts evidence images and company logos into S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Bucket names an object storage bucket.
type Bucket string

const (
	BucketReportImages    Bucket = "report-images"
	BucketVehicleEvidence Bucket = "vehicle-evidence"
	BucketLogos           Bucket = "logos"
)

var (
	ErrInvalidObject = errors.New("invalid storage object")
	ErrForeignURL    = errors.New("url does not belong to this store")
)

// Object is one upload.
type Object struct {
	Bucket      Bucket
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (o Object) validate() error {
	if o.Bucket == "" || o.Key == "" || o.Body == nil {
		return ErrInvalidObject
	}
	if strings.HasPrefix(o.Key, "/") || strings.Contains(o.Key, "..") {
		return fmt.Errorf("%w: key %q", ErrInvalidObject, o.Key)
	}
	return nil
}

// Store is the object storage surface the rest of the app depends on.
type Store interface {
	// Put uploads obj and returns its public URL.
	Put(ctx context.Context, obj Object) (string, error)
	// Delete removes the object behind a public URL previously returned by Put.
	Delete(ctx context.Context, publicURL string) error
}

// PublicURL joins base, bucket and key into "{base}/{bucket}/{key}".
func PublicURL(base string, bucket Bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + string(bucket) + "/" + key
}

// ParseURL is the inverse of PublicURL.
func ParseURL(base, raw string) (Bucket, string, error) {
	prefix := strings.TrimRight(base, "/") + "/"
	if base == "" || !strings.HasPrefix(raw, prefix) {
		return "", "", ErrForeignURL
	}
	rest := strings.TrimPrefix(raw, prefix)
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrForeignURL
	}
	return Bucket(bucket), key, nil
}
