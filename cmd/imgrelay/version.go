package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion returns the best-effort version of the binary:
//  1. IMGRELAY_VERSION environment variable
//  2. Go build information (module version or VCS revision)
//  3. "development"
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion(os.Getenv, debug.ReadBuildInfo)
	})
	return cachedVersion
}

func detectVersion(getenv func(string) string, buildInfo func() (*debug.BuildInfo, bool)) string {
	if v := strings.TrimSpace(getenv("IMGRELAY_VERSION")); v != "" {
		return v
	}

	if info, ok := buildInfo(); ok && info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return fmt.Sprintf("dev-%s", setting.Value)
			}
		}
	}

	return "development"
}
