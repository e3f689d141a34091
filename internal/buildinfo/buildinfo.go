// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

import "runtime/debug"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/openledger/imageledger/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Info is the metadata of the running binary.
type Info struct {
	Version   string
	BuildDate string
	GoVersion string
}

// Get returns the metadata of the running binary. A missing version falls
// back to the main module version recorded by the go tool.
func Get() Info {
	info := Info{Version: version, BuildDate: buildDate, GoVersion: UnknownValue}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	if info.Version == "" {
		info.Version = UnknownValue
	}
	if info.BuildDate == "" {
		info.BuildDate = UnknownValue
	}
	return info
}

// Release is the Sentry release name.
func (i Info) Release() string {
	return "imageledger@" + i.Version
}
