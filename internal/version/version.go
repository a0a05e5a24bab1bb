package version

// Version is the imagebuilder release, set at build time:
// go build -ldflags "-X git.home.luguber.info/inful/imagebuilder/internal/version.Version=v1.2.0".
var Version = "dev"

// Build metadata, also set via ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String returns the version line printed by --version.
func String() string {
	return Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
