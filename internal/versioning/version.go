// Package versioning negotiates the relay API version and reports build
// information.
package versioning

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// APIVersion represents a semantic version for the API
type APIVersion struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// String returns the version as a string (e.g., "1.2.3" or "1.2.3-beta")
func (v APIVersion) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	return version
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other. A release
// sorts after any prerelease of the same version.
func (v APIVersion) Compare(other APIVersion) int {
	for _, pair := range [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}

	// CurrentVersion is the version this build serves
	CurrentVersion = V1_0_0

	// MinimumSupportedVersion is the oldest version clients may request
	MinimumSupportedVersion = V1_0_0
)

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([a-zA-Z0-9\-\.]+))?$`)

// ParseVersion parses "1", "1.2" or "1.2.3[-pre]"; missing components are zero.
func ParseVersion(versionStr string) (APIVersion, error) {
	core, pre, hasPre := strings.Cut(versionStr, "-")
	switch strings.Count(core, ".") {
	case 0:
		core += ".0.0"
	case 1:
		core += ".0"
	}
	if hasPre {
		core += "-" + pre
	}

	matches := versionPattern.FindStringSubmatch(core)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component: %s", matches[i+1])
		}
		parts[i] = n
	}

	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2], Prerelease: matches[4]}, nil
}

// Compatibility is the result of checking a requested version
type Compatibility struct {
	Requested  APIVersion `json:"requested_version"`
	Current    APIVersion `json:"current_version"`
	Minimum    APIVersion `json:"minimum_supported"`
	Compatible bool       `json:"compatible"`
	Reason     string     `json:"reason,omitempty"`
}

// CheckCompatibility accepts any version between the minimum supported one
// and the current major line.
func CheckCompatibility(requested APIVersion) Compatibility {
	compat := Compatibility{
		Requested: requested,
		Current:   CurrentVersion,
		Minimum:   MinimumSupportedVersion,
	}

	switch {
	case requested.Compare(MinimumSupportedVersion) < 0:
		compat.Reason = fmt.Sprintf("version %s is no longer supported, minimum is %s", requested, MinimumSupportedVersion)
	case requested.Major > CurrentVersion.Major:
		compat.Reason = fmt.Sprintf("version %s is not available, current is %s", requested, CurrentVersion)
	default:
		compat.Compatible = true
	}
	return compat
}

// VersionRange returns the supported version range as a string
func VersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion, CurrentVersion)
}

// Info describes the running build
type Info struct {
	API       APIVersion `json:"api_version"`
	Build     string     `json:"build_version"`
	Commit    string     `json:"git_commit,omitempty"`
	BuildTime string     `json:"build_time,omitempty"`
	GoVersion string     `json:"go_version"`
}

// NewInfo combines the linker-injected build values with the API version
func NewInfo(build, commit, buildTime string) Info {
	return Info{
		API:       CurrentVersion,
		Build:     build,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("build %s (api %s, commit %s, built %s, %s)", i.Build, i.API, i.Commit, i.BuildTime, i.GoVersion)
}
