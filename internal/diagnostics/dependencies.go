// Package diagnostics reports host prerequisites for the self-test command.
package diagnostics

import (
	"os/exec"
	"runtime"
)

var (
	lookPath = exec.LookPath
	goos     = runtime.GOOS
)

type BinaryStatus struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// DependencyReport lists the URL launcher candidates used to open YouTube
// links and whether any of them is installed.
type DependencyReport struct {
	Launchers     []BinaryStatus `json:"launchers"`
	LauncherFound bool           `json:"launcher_found"`
}

func DetectDependencies() DependencyReport {
	report := DependencyReport{Launchers: []BinaryStatus{}}
	for _, name := range launcherCandidates(goos) {
		status := detectBinary(name)
		report.Launchers = append(report.Launchers, status)
		report.LauncherFound = report.LauncherFound || status.Found
	}
	return report
}

func launcherCandidates(platform string) []string {
	switch platform {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32"}
	default:
		return []string{"xdg-open", "x-www-browser", "www-browser"}
	}
}

func detectBinary(name string) BinaryStatus {
	path, err := lookPath(name)
	if err != nil {
		return BinaryStatus{Name: name}
	}
	return BinaryStatus{Name: name, Found: true, Path: path}
}
