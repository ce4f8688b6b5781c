// Package version carries build-time identifying information, set via
// -ldflags at release build time. Version defaults to "dev" and Commit to
// "none" so that
// `go run`/tests behave sensibly without a release pipeline.
package version

var (
	Version = "dev"
	Commit  = "none"
)
