// Package magictunnel is the module root; it only carries the build-time
// version string referenced by cmd/magictunneld and the main package.
package magictunnel

// Version is populated by build ldflags in CI/release builds. Defaults to
// "dev" for local builds.
var Version = "dev"
