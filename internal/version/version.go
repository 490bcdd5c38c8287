// Package version holds build metadata, set with -ldflags at link time:
//
//	go build -ldflags "-X github.com/banshee-data/convlink/internal/version.Version=v1.2.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the build metadata in JSON form.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s, built %s)", i.Version, i.GitSHA, i.BuildTime)
}
