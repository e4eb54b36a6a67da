package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPoolClosed is returned by any operation attempted after Close.
	ErrPoolClosed = errors.New("pool: pool is closed")

	// ErrInvalidRelease is returned when a caller releases a handle the pool
	// did not issue, or releases the same handle twice.
	ErrInvalidRelease = errors.New("pool: release of unrecognized or already-released resource")
)

// DefaultAcquireTimeout is applied when Config.AcquireTimeout is zero.
const DefaultAcquireTimeout = 30 * time.Second

// AcquireTimeoutError reports that no resource became available within the
// configured acquire timeout. It is recoverable; callers may retry.
type AcquireTimeoutError struct {
	Timeout time.Duration
}

// Error renders the timeout in milliseconds. The exact wording is relied on
// by callers and tests; do not change it.
func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("Failed to acquire connection within %dms", e.Timeout.Milliseconds())
}

// IsAcquireTimeout reports whether err is an acquire timeout.
func IsAcquireTimeout(err error) bool {
	var te *AcquireTimeoutError
	return errors.As(err, &te)
}
