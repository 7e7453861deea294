package config

import (
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X reducer/internal/config.version=1.4.0" (likewise
// commit and buildTime).
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

// NewBuildInfo reports the linked build metadata. Commit and build time fall
// back to the VCS stamps the toolchain embeds when ldflags left them empty.
func NewBuildInfo() BuildInfo {
	return buildInfoFrom(version, commit, buildTime, debug.ReadBuildInfo)
}

func buildInfoFrom(v, c, t string, read func() (*debug.BuildInfo, bool)) BuildInfo {
	info := BuildInfo{Version: v, Commit: c, BuildTime: t}
	if info.Commit != "" && info.BuildTime != "" {
		return info
	}
	if bi, ok := read(); ok && bi != nil {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" && len(s.Value) >= 7 {
					info.Commit = s.Value[:7]
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				if s.Value == "true" && info.Commit != "" && !strings.HasSuffix(info.Commit, "-dirty") {
					info.Commit += "-dirty"
				}
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "none"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

// UserAgent is the User-Agent outbound clients send, e.g. "reducer/1.4.0".
func (b BuildInfo) UserAgent(service string) string {
	if b.Version == "" {
		return service
	}
	return service + "/" + b.Version
}
