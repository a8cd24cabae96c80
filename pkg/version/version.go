package version

import (
	"runtime"
)

// Values injected at build time via -ldflags.
var (
	GitVersion = "unknown"
	GitCommit  = "unknown"
	BuildDate  = "unknown"
)

type BuildVersionInfo struct {
	GitVersion string `json:"GitVersion"`
	GitCommit  string `json:"GitCommit"`
	BuildDate  string `json:"BuildDate"`
	GOOS       string `json:"GOOS"`
	GOARCH     string `json:"GOARCH"`
}

func Get() *BuildVersionInfo {
	return &BuildVersionInfo{
		GitVersion: GitVersion,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
	}
}
