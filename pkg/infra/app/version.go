package app

import "github.com/kart-io/version"

// GetVersion returns the git version stamped into the binary, used for the
// logger service version and the /healthz report.
func GetVersion() string {
	return version.Get().GitVersion
}
