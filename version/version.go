// Package version exposes build metadata. Release builds set the variables
// with -ldflags "-X github.com/grovetools/wayshell/version.Version=...".
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shortCommitLen = 7

// Info is the build metadata reported by `wayshell version` and the state
// API's running info.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short is "<version> (<commit>)" with the commit abbreviated, or just the
// version for builds without a commit.
func (i Info) Short() string {
	switch i.Commit {
	case "", "none":
		return i.Version
	}
	c := i.Commit
	if len(c) > shortCommitLen {
		c = c[:shortCommitLen]
	}
	return i.Version + " (" + c + ")"
}

func (i Info) String() string {
	rows := [][2]string{
		{"Version", i.Version},
		{"Commit", i.Commit},
		{"Built", i.BuildDate},
		{"Go version", i.GoVersion},
		{"Platform", i.Platform},
	}
	lines := make([]string, len(rows))
	for n, r := range rows {
		lines[n] = fmt.Sprintf("%-11s %s", r[0]+":", r[1])
	}
	return strings.Join(lines, "\n")
}
