// Package storage persists the two pieces of state a run carries forward:
// the dashboard metrics list and the snapshot of rooms still open at the
// end of the last processed day. Both live in a Bucket, which is either an
// S3 object or a local file.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Bucket.Read when nothing has been written yet.
var ErrNotFound = errors.New("object not found")

// Bucket is a single named blob.
type Bucket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	String() string
}
