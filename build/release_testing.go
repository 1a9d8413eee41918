//go:build testing
// +build testing

package build

// Release is "testing" during `go test` runs. Critical/Severe panic
// immediately so invariant violations fail the test instead of merely being
// logged to stderr.
var Release = "testing"

// DEBUG is true for testing builds.
var DEBUG = true
