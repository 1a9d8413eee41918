//go:build dev
// +build dev

package build

// Release is "dev" for developer builds: Critical/Severe print their
// diagnostics and then panic, since DEBUG is true here.
var Release = "dev"

// DEBUG is true for dev builds.
var DEBUG = true
