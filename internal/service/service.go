// Package service installs axond under the host's service manager so
// the daemon survives reboots: systemd on Linux, launchd on macOS and
// the Service Control Manager on Windows. Linux hosts without root can
// fall back to a crontab @reboot entry instead.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Runner is what the daemon hands to the service manager: start once,
// stop with a deadline. The Windows handler drives it through SCM
// state changes; the other platforms never call it.
type Runner interface {
	Start() error
	StopWithContext(ctx context.Context) error
}

// ErrNoCrontab is returned by InstallUser when the crontab binary is
// missing from the host.
var ErrNoCrontab = errors.New("crontab not available: install cron to use a user service")

// Config describes the service definition to install. The config file
// path is baked into the generated unit, so it must be final before
// Install runs.
type Config struct {
	Name        string // unit, plist and SCM identifier
	DisplayName string // human name shown by the Windows SCM
	Description string
	ConfigPath  string // absolute path to the yaml config
	WorkingDir  string
	User        string // run-as user, Linux only, empty means root
	Group       string // run-as group, Linux only
}

// DefaultConfig builds the standard axond service definition around a
// config file path. Relative paths are pinned to absolute ones here so
// the generated unit does not depend on the installer's cwd.
func DefaultConfig(configPath string) Config {
	abs, _ := filepath.Abs(configPath)
	return Config{
		Name:        "axond",
		DisplayName: "Axond Neural Network Daemon",
		Description: "Distributed neural network daemon for peer-to-peer inference and learning",
		ConfigPath:  abs,
		WorkingDir:  filepath.Dir(abs),
	}
}

// Install registers and starts the daemon as a system service. It
// needs root on Unix and an elevated token on Windows.
func Install(cfg Config) error {
	if !IsRoot() {
		return errors.New("must run as root/administrator to install the service")
	}
	execPath, err := resolveExecutable()
	if err != nil {
		return err
	}
	return platformInstall(cfg, execPath)
}

// Uninstall stops and removes the installed service. A Linux user
// service, when present, takes precedence over a system one.
func Uninstall(serviceName string) error {
	if IsUserInstalled() {
		return UninstallUser()
	}
	if !IsRoot() {
		return errors.New("must run as root/administrator to uninstall the service")
	}
	return platformUninstall(serviceName)
}

// Status reports the state of the installed service, checking the
// user service first on Linux.
func Status(serviceName string) (string, error) {
	if IsUserInstalled() {
		return StatusUser()
	}
	return platformStatus(serviceName)
}

// IsInstalled reports whether a system service of this name exists.
func IsInstalled(serviceName string) bool {
	return platformInstalled(serviceName)
}

// IsRoot reports whether the process runs with the privileges service
// installation needs: uid 0 on Unix, an elevated token on Windows.
func IsRoot() bool {
	return platformIsAdmin()
}

// IsInteractive reports whether the process was started from a shell
// rather than by the Windows SCM. Always true outside Windows.
func IsInteractive() bool {
	return platformInteractive()
}

// RunAsService hands daemon lifecycle control to the Windows SCM.
// Call it only when IsInteractive reports false; elsewhere it is a
// no-op.
func RunAsService(name string, runner Runner) error {
	return platformRun(name, runner)
}

// InstallPath returns the conventional location for the daemon binary
// on this platform.
func InstallPath(serviceName string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramFiles"), serviceName, serviceName+".exe")
	}
	return filepath.Join("/usr/local/bin", serviceName)
}

// Platform names the service manager platform, or "unsupported".
func Platform() string {
	if IsSupported() {
		return runtime.GOOS
	}
	return "unsupported"
}

// IsSupported reports whether this platform has a service manager the
// package knows how to drive.
func IsSupported() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	}
	return false
}

// resolveExecutable finds the real path of the running binary. The
// service definition must not point at a symlink that a later upgrade
// may retarget or remove.
func resolveExecutable() (string, error) {
	p, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	p, err = filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolve executable symlinks: %w", err)
	}
	return p, nil
}

// run executes a management command and returns its trimmed combined
// output for error reporting.
func run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
