package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/pillars.detect/internal/monitoring"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err looks like SQLITE_BUSY contention.
// The driver surfaces these as strings, so this is a substring match.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while the
// error is busy contention. Non-busy errors return unchanged on the
// first attempt.
func retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < busyMaxAttempts; attempt++ {
		if attempt > 0 {
			monitoring.Logf("[sqlite] database busy, retry %d/%d after %v", attempt, busyMaxAttempts-1, delay)
			time.Sleep(delay)
			delay *= 2
		}
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", busyMaxAttempts, err)
}
