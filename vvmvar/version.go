// Package vvmvar provides the version number of a vvm build.
package vvmvar

import (
	"runtime/debug"
)

// Version is set at runtime based on the Go module used to build.
var Version = "(devel)"

// UserAgent is sent with provisioning HTTP requests.
var UserAgent = "vvm/" + Version

func init() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = buildInfo.Main.Version
	if Version == "(devel)" {
		var vcsRev, vcsMod string
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" {
				vcsRev = setting.Value
			} else if setting.Key == "vcs.modified" {
				vcsMod = setting.Value
			}
		}
		if vcsRev != "" {
			Version = vcsRev
			switch vcsMod {
			case "false":
			case "true":
				Version += "+modifications"
			default:
				Version += "+unknown"
			}
		}
	}
	UserAgent = "vvm/" + Version
}
