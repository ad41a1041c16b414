package handlers

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/relaybot/relaybot/internal/appid"
)

// Build metadata, injected from main via SetVersionInfo.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// reportedModules are the third-party modules listed in version output,
// keyed by their short name.
var reportedModules = map[string]string{
	"telegram-bot-api": "github.com/go-telegram-bot-api/telegram-bot-api/v5",
	"genai":            "google.golang.org/genai",
	"go-redis":         "github.com/redis/go-redis/v9",
	"go-libsql":        "github.com/tursodatabase/go-libsql",
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse is the /version payload and `version --json` output.
type VersionResponse struct {
	App          AppInfo           `json:"app"`
	Dependencies map[string]string `json:"dependencies"`
	Runtime      RuntimeInfo       `json:"runtime"`
}

// AppInfo describes the running build.
type AppInfo struct {
	Name      string `json:"name"`
	Vendor    string `json:"vendor"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// RuntimeInfo describes the host process.
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler serves CurrentVersion.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentVersion())
}

// CurrentVersion assembles the version payload.
func CurrentVersion() VersionResponse {
	identity := appid.Get()
	return VersionResponse{
		App: AppInfo{
			Name:      identity.BinaryName,
			Vendor:    identity.Vendor,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: dependencyVersions(),
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}
}

// dependencyVersions reports gofulmen and crucible from the embedded
// catalog plus reportedModules from the build info. Modules missing from
// the build (test binaries, stripped builds) are omitted.
func dependencyVersions() map[string]string {
	embedded := crucible.GetVersion()
	deps := map[string]string{
		"gofulmen": embedded.Gofulmen,
		"crucible": embedded.Crucible,
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}
	byPath := make(map[string]string, len(info.Deps))
	for _, mod := range info.Deps {
		version := mod.Version
		if mod.Replace != nil && mod.Replace.Version != "" {
			version = mod.Replace.Version
		}
		byPath[mod.Path] = strings.TrimSpace(version)
	}
	for name, path := range reportedModules {
		if version := byPath[path]; version != "" {
			deps[name] = version
		}
	}
	return deps
}
