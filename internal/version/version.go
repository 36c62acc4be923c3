// Package version carries the build metadata stamped in via ldflags:
//
//	go build -ldflags "\
//	  -X github.com/banshee-data/pillars.detect/internal/version.Version=v0.3.0 \
//	  -X github.com/banshee-data/pillars.detect/internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the release tag, "dev" for unstamped builds.
	Version = "dev"
	// GitSHA identifies the exact commit built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Short is the one-line form used in startup logs.
func Short() string {
	return Version + " (" + GitSHA + ")"
}
