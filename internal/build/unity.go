// Package build triggers Unity Editor batch builds and surfaces their
// failures with enough context (exit code, stderr, log tail) for the user
// to diagnose them without opening the editor.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DefaultMethod is the Unity static method invoked for batch builds.
const DefaultMethod = "RogueLike2D.Editor.BuildScript.PerformBuild"

// logFileName is where Unity writes the batch build log, relative to the
// project directory.
const logFileName = "Editor.log.batchbuild.txt"

// BuildError describes a failed Unity batch build.
type BuildError struct {
	ExitCode int
	Stderr   string
	LogPath  string
	LogTail  string
	Command  []string
}

func (e *BuildError) Error() string {
	stderr := e.Stderr
	if stderr == "" {
		stderr = "(empty)"
	}
	tail := e.LogTail
	if tail == "" {
		tail = "(log missing)"
	}
	return fmt.Sprintf(
		"Unity batch build failed (exit %d).\nCommand: %s\n\nSTDERR:\n%s\n\n--- Log tail (%s) ---\n%s",
		e.ExitCode, strings.Join(e.Command, " "), stderr, e.LogPath, tail)
}

// Builder runs Unity batch builds for a project.
type Builder struct {
	UnityPath    string // explicit editor path; empty means auto-discover
	Method       string
	ProjectPath  string
	LogTailLines int
	RunAfter     bool // launch the built game binary on success

	OnLogLine func(line string) // streamed Unity log lines, may be nil
}

// Run performs a batch build. On failure it returns a *BuildError carrying
// the exit code, stderr and the tail of the Unity log.
func (b *Builder) Run(ctx context.Context) error {
	unity := b.UnityPath
	if unity == "" {
		var err error
		unity, err = FindUnity()
		if err != nil {
			return err
		}
	}
	if _, err := os.Stat(unity); err != nil {
		if _, pathErr := exec.LookPath(unity); pathErr != nil {
			return fmt.Errorf("build tool %q not found: install Unity or set unity_path in the config", unity)
		}
	}

	method := b.Method
	if method == "" {
		method = DefaultMethod
	}
	logPath := filepath.Join(b.ProjectPath, logFileName)

	args := []string{
		"-batchmode",
		"-nographics",
		"-quit",
		"-projectPath", b.ProjectPath,
		"-executeMethod", method,
		"-logFile", logPath,
	}

	var watcher *LogWatcher
	if b.OnLogLine != nil {
		var err error
		watcher, err = NewLogWatcher(logPath, b.OnLogLine)
		if err == nil {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	cmd := exec.CommandContext(ctx, unity, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &BuildError{
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			LogPath:  logPath,
			LogTail:  ReadLogTail(logPath, b.tailLines()),
			Command:  append([]string{unity}, args...),
		}
	}

	if !b.RunAfter {
		return nil
	}

	game := b.GamePath()
	if _, err := os.Stat(game); err != nil {
		return &BuildError{
			ExitCode: 0,
			Stderr:   strings.TrimSpace(stderr.String()),
			LogPath:  logPath,
			LogTail:  ReadLogTail(logPath, b.tailLines()),
			Command:  append([]string{unity}, args...),
		}
	}

	// Start the game without waiting for it to exit.
	return exec.Command(game).Start()
}

// GamePath returns the path of the game binary produced by the build method.
func (b *Builder) GamePath() string {
	return filepath.Join(b.ProjectPath, "Builds", "Windows", "NoLight.exe")
}

func (b *Builder) tailLines() int {
	if b.LogTailLines > 0 {
		return b.LogTailLines
	}
	return 80
}

// ReadLogTail returns the last n lines of the file, or "" if it cannot be
// read. Failures to access the log must not mask the original problem.
func ReadLogTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// hubGlobs lists where Unity Hub installs editors, per platform.
func hubGlobs() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return []string{`C:\Program Files\Unity\Hub\Editor\*\Editor\Unity.exe`}
	case "darwin":
		return []string{"/Applications/Unity/Hub/Editor/*/Unity.app/Contents/MacOS/Unity"}
	default:
		return []string{filepath.Join(home, "Unity", "Hub", "Editor", "*", "Editor", "Unity")}
	}
}

// FindUnity locates the Unity Editor executable: the UNITY_PATH environment
// variable wins, then the newest Unity Hub install.
func FindUnity() (string, error) {
	if p := os.Getenv("UNITY_PATH"); p != "" {
		if fileExists(p) {
			return p, nil
		}
		return "", fmt.Errorf("UNITY_PATH is set but %q does not exist", p)
	}

	for _, pattern := range hubGlobs() {
		candidates, _ := filepath.Glob(pattern)
		if len(candidates) > 0 {
			// Highest version wins; hub folders sort by version name.
			sort.Strings(candidates)
			p := candidates[len(candidates)-1]
			if fileExists(p) {
				return p, nil
			}
		}
	}

	return "", fmt.Errorf("Unity Editor executable not found: set unity_path in the config or define UNITY_PATH")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
