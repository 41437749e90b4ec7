// Package buildinfo exposes version facts stamped at link time, e.g.
// -ldflags "-X dispo/internal/buildinfo.Version=v1.2.3".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the stamped facts plus the running Go version.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}
