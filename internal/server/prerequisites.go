package server

import (
	"os/exec"
	"regexp"
	"strings"

	"github.com/D4ffi/allay-app/internal/model"
)

// CheckPrerequisites returns the status of tools a server needs on the host.
// Java is the hard requirement; git is only used for modpack workflows.
func CheckPrerequisites() []model.Prerequisite {
	tools := []struct {
		name     string
		required bool
		args     []string
	}{
		{"java", true, []string{"-version"}},
		{"git", false, []string{"--version"}},
	}

	result := make([]model.Prerequisite, 0, len(tools))
	for _, t := range tools {
		result = append(result, checkTool(t.name, t.required, t.args))
	}
	return result
}

func checkTool(name string, required bool, args []string) model.Prerequisite {
	path, err := exec.LookPath(name)
	if err != nil || path == "" {
		return model.Prerequisite{
			Name:      name,
			Installed: false,
			Required:  required,
			Message:   "not found",
		}
	}

	// java prints its version banner on stderr
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return model.Prerequisite{
			Name:      name,
			Installed: true,
			Version:   parseVersion(name, out),
			Required:  required,
			Message:   err.Error(),
		}
	}

	version := parseVersion(name, out)
	if version == "" && out != "" {
		version = firstLine(out)
	}

	return model.Prerequisite{
		Name:      name,
		Installed: true,
		Version:   version,
		Required:  required,
	}
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

var (
	javaVersionRe = regexp.MustCompile(`version "([^"]+)"`)
	gitVersionRe  = regexp.MustCompile(`git version (\S+)`)
)

func parseVersion(name, output string) string {
	line := firstLine(output)
	switch name {
	case "java":
		if m := javaVersionRe.FindStringSubmatch(line); len(m) > 1 {
			return m[1]
		}
	case "git":
		if m := gitVersionRe.FindStringSubmatch(line); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
