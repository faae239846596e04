// Package buildinfo exposes the build identifier stamped into every control
// API response, so an operator comparing curl output to logs can tell which
// binary answered.
package buildinfo

// ID is overridden at build time:
//
//	go build -ldflags "-X .../internal/buildinfo.ID=$(git rev-parse --short HEAD)"
var ID = "dev"
