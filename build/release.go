//go:build !dev && !testing
// +build !dev,!testing

package build

// Release is a string that indicates whether the program was compiled for
// standard use, for developer testing, or for automated testing. Select
// (see var.go) uses Release to pick the right build.Var field, and
// Critical/Severe use it to decide whether to print their diagnostics
// (skipped for "testing"); DEBUG decides whether they panic.
var Release = "standard"

// DEBUG controls whether Critical and Severe panic after logging. It is
// true for the dev and testing builds, false for standard.
var DEBUG = false
