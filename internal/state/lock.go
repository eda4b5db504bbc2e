package state

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
)

const lockRetryDelay = 25 * time.Millisecond

// Unlock releases a lock.
type Unlock func()

// lockFile takes an exclusive cross-process lock on path, waiting until ctx
// is done.
func lockFile(ctx context.Context, path, id string) (Unlock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, gerrors.StateWrite(path, err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gerrors.StateLocked(id).WithCause(err)
		}
		return nil, gerrors.StateWrite(path, err)
	}
	if !locked {
		return nil, gerrors.StateLocked(id)
	}
	return func() { _ = fl.Unlock() }, nil
}
