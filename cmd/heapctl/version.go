package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// set through -ldflags "-X main.version=..."
var version = "dev"

const modulePath = "github.com/joshuapare/heapkit"

// VersionInfo describes the running heapctl binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Module    string `json:"module"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	BuiltAt   string `json:"built_at,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildVersion()
		if jsonOut {
			return printJSON(info)
		}
		printInfo("heapctl %s\n", info.Version)
		printInfo("  module:   %s\n", info.Module)
		printInfo("  go:       %s\n", info.GoVersion)
		printInfo("  platform: %s\n", info.Platform)
		if info.Revision != "" {
			dirty := ""
			if info.Modified {
				dirty = " (modified)"
			}
			printInfo("  revision: %s%s\n", info.Revision, dirty)
		}
		if info.BuiltAt != "" {
			printInfo("  built:    %s\n", info.BuiltAt)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildVersion reads the version stamped into the binary by the go tool.
func buildVersion() VersionInfo {
	info := VersionInfo{
		Version:   version,
		Module:    modulePath,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if bi.Main.Path != "" {
		info.Module = bi.Main.Path
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		case "vcs.time":
			info.BuiltAt = s.Value
		}
	}
	return info
}
