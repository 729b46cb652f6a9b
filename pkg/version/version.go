// Package version reports the build version injected at link time.
package version

// version is overridden with -ldflags "-X pharmacy/pkg/version.version=...".
var version = "dev"

// Version returns the build version.
func Version() string {
	return version
}
