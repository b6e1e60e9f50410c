package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/randomizedcoder/go-room-progress/internal/session"
)

// ErrStateUnreadable means the stored world could not be used: it is
// missing, corrupt or from another snapshot version. The caller cold starts.
var ErrStateUnreadable = errors.New("persisted state unreadable")

// WorldStore reads and writes the snapshot of open rooms.
type WorldStore struct {
	bucket Bucket
}

// NewWorldStore wraps a bucket.
func NewWorldStore(b Bucket) *WorldStore {
	return &WorldStore{bucket: b}
}

// Read restores the stored World. On any failure it still returns a usable
// empty World together with an error wrapping ErrStateUnreadable.
func (s *WorldStore) Read(ctx context.Context, opts ...session.Option) (*session.World, error) {
	data, err := s.bucket.Read(ctx)
	if err != nil {
		return session.NewWorld(opts...), fmt.Errorf("%w: %w", ErrStateUnreadable, err)
	}

	snap, err := session.DecodeSnapshot(data)
	if err != nil {
		return session.NewWorld(opts...), fmt.Errorf("%w: %w", ErrStateUnreadable, err)
	}
	if !snap.Compatible() {
		return session.NewWorld(opts...), fmt.Errorf("%w: snapshot version %d, want %d",
			ErrStateUnreadable, snap.Version, session.SnapshotVersion)
	}

	w, _ := session.Restore(snap, opts...)
	return w, nil
}

// Write stores a snapshot of the World.
func (s *WorldStore) Write(ctx context.Context, w *session.World) error {
	data, err := w.Snapshot().Encode()
	if err != nil {
		return err
	}
	return s.bucket.Write(ctx, data)
}
