// Package version exposes the build metadata stamped into the binary.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
	// DevelopmentAPIVersion is the OpenAPI version of builds without a
	// semantic version.
	DevelopmentAPIVersion = "0.0.0-dev"
)

var (
	// AppVersion is intended to be overridden at build time:
	// go build -ldflags="-X github.com/nimburion/docrest/pkg/version.AppVersion=v1.2.3"
	AppVersion = DevelopmentVersion

	// GitCommit is intended to be overridden at build time.
	GitCommit = Unknown

	// BuildTime is intended to be overridden at build time (RFC3339 recommended).
	BuildTime = Unknown
)

var semVerPattern = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`)

// Info contains version metadata for an application.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Current returns the current build version metadata.
func Current(serviceName string) Info {
	return Info{
		Service:   normalizeOrDefault(serviceName, Unknown),
		Version:   normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:    normalizeOrDefault(GitCommit, Unknown),
		BuildTime: normalizeOrDefault(BuildTime, Unknown),
	}
}

// APIVersion returns the version published in the OpenAPI document: the
// build version without its "v" prefix when it is a semantic version,
// DevelopmentAPIVersion otherwise.
func (i Info) APIVersion() string {
	if v, ok := Canonical(i.Version); ok {
		return v
	}
	return DevelopmentAPIVersion
}

// Canonical validates raw as a semantic version (semver.org, optional "v"
// prefix) and returns it without the prefix.
func Canonical(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !semVerPattern.MatchString(raw) {
		return "", false
	}
	return strings.TrimPrefix(raw, "v"), true
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}
