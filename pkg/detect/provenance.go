package detect

import (
	"path/filepath"
	"strings"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
)

var userLocalMarkers = []string{
	"/.nvm/", "/nvm/", "/.volta/", "/.fnm/", "/fnm/", "/.asdf/", "/.nodenv/",
	"/n/versions/", "/.local/", "/.claude/local/", "/.npm-global/",
	"/appdata/roaming/npm/", "/appdata/local/programs/", "/nvm-windows/",
}

var packageManagerMarkers = []string{
	"/opt/homebrew/", "/usr/local/cellar/", "/home/linuxbrew/", "/.linuxbrew/",
	"/chocolatey/", "/scoop/", "/snap/", "/nix/store/", "/lib/node_modules/",
}

var systemMarkers = []string{
	"/usr/bin/", "/bin/", "/usr/sbin/", "/usr/local/bin/", "/usr/local/git/",
	"/program files/", "/program files (x86)/", "/library/developer/commandlinetools/",
	"/applications/xcode.app/",
}

// Classify infers how a tool was installed from the resolved path of its
// executable. Markers are checked most specific first: ~/.local/bin also
// matches "/bin/".
func Classify(executable, home string) (types.InstallationType, string) {
	if executable == "" {
		return types.InstallationUnknown, ""
	}
	p := normalizePath(executable)

	location := installRoot(executable)
	switch {
	case containsAny(p, userLocalMarkers):
		return types.InstallationUserLocal, location
	case containsAny(p, packageManagerMarkers):
		return types.InstallationPackageManager, location
	case home != "" && strings.HasPrefix(p, normalizePath(home)+"/"):
		return types.InstallationUserLocal, location
	case containsAny(p, systemMarkers):
		return types.InstallationSystem, location
	}
	return types.InstallationUnknown, location
}

// installRoot strips a trailing bin/ or cmd/ directory so /usr/bin/git is
// reported as installed under /usr.
func installRoot(executable string) string {
	dir := filepath.Dir(executable)
	switch strings.ToLower(filepath.Base(dir)) {
	case "bin", "cmd":
		return filepath.Dir(dir)
	}
	return dir
}

func normalizePath(path string) string {
	p := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// wellKnownDirs lists install locations that may not be on PATH yet.
func wellKnownDirs(tool types.Tool, p platform.Platform, home string) []string {
	var dirs []string
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
		)
	}
	switch {
	case p.IsWindows():
		dirs = append(dirs, `C:\Program Files\nodejs`)
		if tool == types.ToolGit {
			dirs = append(dirs, `C:\Program Files\Git\cmd`, `C:\Program Files\Git\bin`)
		}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "AppData", "Roaming", "npm"))
		}
	case p.IsDarwin():
		dirs = append(dirs, "/opt/homebrew/bin", "/usr/local/bin", "/usr/local/git/bin")
	default:
		dirs = append(dirs, "/usr/local/bin", "/home/linuxbrew/.linuxbrew/bin")
	}
	if tool == types.ToolAssistant && home != "" {
		dirs = append(dirs, filepath.Join(home, ".claude", "local"))
	}
	return dirs
}
