// Package buildinfo reports version metadata. Values stamped with
// -ldflags win; otherwise the VCS settings embedded by the Go toolchain
// are used.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Set at build time via -ldflags "-X .../buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

var (
	vcsOnce     sync.Once
	vcsRevision string
	vcsTime     string
	vcsModified bool
)

// readVCS loads the toolchain-embedded VCS stamp once.
func readVCS() {
	vcsOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				vcsRevision = s.Value
			case "vcs.time":
				vcsTime = s.Value
			case "vcs.modified":
				vcsModified = s.Value == "true"
			}
		}
	})
}

// Commit returns the short git revision, preferring the ldflags value.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	readVCS()
	if vcsRevision == "" {
		return GitCommit
	}
	rev := vcsRevision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if vcsModified {
		rev += "-dirty"
	}
	return rev
}

// Built returns the build or commit time, preferring the ldflags value.
func Built() string {
	if BuildTime != "unknown" {
		return BuildTime
	}
	readVCS()
	if vcsTime == "" {
		return BuildTime
	}
	return vcsTime
}

// Info returns build and runtime info for the version endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"build_time": Built(),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return fmt.Sprintf("vanaci-agent/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Vanaci agent %s (%s) built %s", Version, Commit(), Built())
}
