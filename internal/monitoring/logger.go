// Package monitoring holds the swappable diagnostic logger used on hot
// paths (storage busy retries and similar) where callers may want to
// capture or silence output without threading a logger through.
package monitoring

import "log"

// Logf emits one diagnostic line. It defaults to log.Printf; replace it
// through SetLogger to capture or mute diagnostics.
var Logf = log.Printf

// SetLogger swaps the diagnostic sink. nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
