package config

import (
	"runtime/debug"
	"testing"
)

func readerOf(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestBuildInfoFrom(t *testing.T) {
	noVCS := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name       string
		commit     string
		built      string
		read       func() (*debug.BuildInfo, bool)
		wantCommit string
		wantTime   string
	}{
		{
			name:       "ldflags win",
			commit:     "a1b2c3d",
			built:      "2022-05-04T06:00:00Z",
			read:       readerOf(debug.BuildSetting{Key: "vcs.revision", Value: "ffffffffffff"}),
			wantCommit: "a1b2c3d",
			wantTime:   "2022-05-04T06:00:00Z",
		},
		{
			name: "vcs fallback",
			read: readerOf(
				debug.BuildSetting{Key: "vcs.revision", Value: "9e107d9d372bb6826bd81d3542a419d6"},
				debug.BuildSetting{Key: "vcs.time", Value: "2022-05-03T22:10:00Z"},
			),
			wantCommit: "9e107d9",
			wantTime:   "2022-05-03T22:10:00Z",
		},
		{
			name: "dirty tree",
			read: readerOf(
				debug.BuildSetting{Key: "vcs.revision", Value: "9e107d9d372b"},
				debug.BuildSetting{Key: "vcs.modified", Value: "true"},
			),
			wantCommit: "9e107d9-dirty",
			wantTime:   "unknown",
		},
		{
			name:       "nothing available",
			read:       noVCS,
			wantCommit: "none",
			wantTime:   "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildInfoFrom("1.4.0", tt.commit, tt.built, tt.read)
			if got.Version != "1.4.0" {
				t.Errorf("Version = %q", got.Version)
			}
			if got.Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", got.Commit, tt.wantCommit)
			}
			if got.BuildTime != tt.wantTime {
				t.Errorf("BuildTime = %q, want %q", got.BuildTime, tt.wantTime)
			}
		})
	}
}

func TestNewBuildInfo_DevDefaults(t *testing.T) {
	info := NewBuildInfo()
	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
	if info.Commit == "" || info.BuildTime == "" {
		t.Errorf("empty metadata: %+v", info)
	}
}

func TestBuildInfo_UserAgent(t *testing.T) {
	if got := (BuildInfo{Version: "1.4.0"}).UserAgent("reducer"); got != "reducer/1.4.0" {
		t.Errorf("UserAgent() = %q", got)
	}
	if got := (BuildInfo{}).UserAgent("reducer"); got != "reducer" {
		t.Errorf("UserAgent() = %q", got)
	}
}
