package cmd

import (
	"runtime"

	"github.com/flanksource/clicky"
	"github.com/flanksource/toolchain/pkg/platform"
)

// BuildInfo is set from ldflags by main
type BuildInfo struct {
	Version  string `json:"version" pretty:"label=Version"`
	Commit   string `json:"commit" pretty:"label=Commit"`
	Date     string `json:"date" pretty:"label=Built"`
	Dirty    bool   `json:"dirty,omitempty" pretty:"label=Dirty"`
	Go       string `json:"go" pretty:"label=Go"`
	Platform string `json:"platform" pretty:"label=Platform"`
}

type VersionOptions struct{}

var buildInfo = BuildInfo{Version: "dev", Commit: "unknown", Date: "unknown"}

func SetVersion(version, commit, date, dirty string) {
	buildInfo = BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
		Dirty:   dirty == "true",
	}
	rootCmd.Version = version
}

func init() {
	clicky.AddCommand(rootCmd, VersionOptions{}, func(opts VersionOptions) (any, error) {
		info := buildInfo
		info.Go = runtime.Version()
		info.Platform = platform.Current().String()
		return info, nil
	})
}
