package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

// Set at link time with -ldflags "-X github.com/openmined/fswatch/internal/version.Version=..."
var (
	AppName   = "fswatch"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// Info is the machine readable form printed by `fswatch version --json`.
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// fillFromBuildInfo only replaces values that were not set through ldflags.
func fillFromBuildInfo(mainVersion string, vcs map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if Revision == "HEAD" || Revision == "" {
		if rev := vcs["vcs.revision"]; rev != "" {
			if len(rev) > 12 {
				rev = rev[:12]
			}
			if vcs["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			Revision = rev
		}
	}

	if BuildDate == "" {
		BuildDate = vcs["vcs.time"]
	}
}

// Short returns `0.1.0 (5e23a4)`
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed returns `0.1.0 (5e23a4; go1.24.0; linux/amd64)`
func Detailed() string {
	info := Get()
	s := fmt.Sprintf("%s (%s; %s; %s", info.Version, info.Revision, info.Go, info.Platform)
	if info.BuildDate != "" {
		s += "; " + info.BuildDate
	}
	return s + ")"
}

func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	vcs := make(map[string]string)
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	fillFromBuildInfo(info.Main.Version, vcs)
}
