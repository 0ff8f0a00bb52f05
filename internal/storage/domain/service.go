// Package domain defines the attachment bucket policy layer. The object store
// itself is a platform concern; this package owns which bucket accepts what.
package domain

import (
	"context"
	"errors"
)

// Bucket names a policy-scoped attachment namespace.
type Bucket string

const (
	BucketCustomerFiles   Bucket = "customer-files"
	BucketCheckImages     Bucket = "check-images"
	BucketMemoAttachments Bucket = "memo-attachments"
)

// Policy is the per-bucket contract: which MIME types may land there and how
// large one object may be.
type Policy struct {
	AllowedMIMEs []string
	MaxBytes     int64
}

type SaveRequest struct {
	Bucket Bucket
	Name   string
	MIME   string
	Data   []byte
}

type Service interface {
	// Save validates req against the bucket policy, writes the object under
	// the data dir and returns the relative path to store in text columns.
	Save(ctx context.Context, req SaveRequest) (string, error)
	// ValidateRef checks that a stored relative path belongs to bucket and
	// carries an allowed extension. Used before persisting a path reference.
	ValidateRef(bucket Bucket, relPath string) error
}

var (
	ErrUnknownBucket  = errors.New("unknown_bucket")
	ErrMIMENotAllowed = errors.New("mime_not_allowed")
	ErrTooLarge       = errors.New("object_too_large")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidRef     = errors.New("invalid_ref")
)
