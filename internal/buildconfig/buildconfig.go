package buildconfig

// Build-time variables injected via ldflags:
//
//	-X github.com/Harshitk-cp/bnoracle/internal/buildconfig.version=...
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Info is served on /version and printed by oraclectl version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func Version() string {
	return version
}

func Commit() string {
	return commit
}

func Get() Info {
	return Info{Version: version, Commit: commit, BuildDate: buildDate}
}

func (i Info) String() string {
	return i.Version + " (" + i.Commit + ", " + i.BuildDate + ")"
}
