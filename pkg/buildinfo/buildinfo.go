// Package buildinfo exposes the running binary's Go toolchain and VCS
// provenance, served as JSON at /version. Adapted from pkg/x/runtime/info.go.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
)

type Info struct {
	AppName     string `json:"app.name"`
	GoVersion   string `json:"go.version"`
	GoArch      string `json:"go.arch"`
	Vcs         string `json:"vcs"`
	VcsRevision string `json:"vcs.revision"`
	VcsTime     string `json:"vcs.time"`
	Dirty       bool   `json:"dirty"`
}

var Current Info

func init() {
	Current.GoVersion = runtime.Version()
	Current.GoArch = runtime.GOARCH

	// -buildvcs=true / auto
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	paths := strings.Split(info.Path, "/")
	Current.AppName = paths[len(paths)-1]

	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs":
			Current.Vcs = kv.Value
		case "vcs.revision":
			if len(kv.Value) >= 8 {
				Current.VcsRevision = kv.Value[:8]
			} else {
				Current.VcsRevision = kv.Value
			}
		case "vcs.time":
			Current.VcsTime = kv.Value
		case "vcs.modified":
			Current.Dirty = kv.Value == "true"
		}
	}
}
