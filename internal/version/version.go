// Package version carries build identification, populated via -ldflags at
// release time.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build identification as a single line.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
