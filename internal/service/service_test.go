package service

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("./config.yaml")

	if cfg.Name != "axond" {
		t.Errorf("Name = %q, want axond", cfg.Name)
	}
	if !filepath.IsAbs(cfg.ConfigPath) {
		t.Errorf("ConfigPath = %q, want an absolute path", cfg.ConfigPath)
	}
	if cfg.WorkingDir != filepath.Dir(cfg.ConfigPath) {
		t.Errorf("WorkingDir = %q, want the config directory %q",
			cfg.WorkingDir, filepath.Dir(cfg.ConfigPath))
	}
	if cfg.User != "" || cfg.Group != "" {
		t.Errorf("run-as defaults = %q/%q, want empty", cfg.User, cfg.Group)
	}
	if cfg.DisplayName == "" || cfg.Description == "" {
		t.Error("display name and description must be populated")
	}
}

func TestPlatformMatchesSupport(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		if !IsSupported() {
			t.Fatalf("IsSupported() = false on %s", runtime.GOOS)
		}
		if Platform() != runtime.GOOS {
			t.Errorf("Platform() = %q, want %q", Platform(), runtime.GOOS)
		}
	default:
		if IsSupported() {
			t.Fatalf("IsSupported() = true on %s", runtime.GOOS)
		}
		if Platform() != "unsupported" {
			t.Errorf("Platform() = %q, want unsupported", Platform())
		}
	}
}

func TestInstallPath(t *testing.T) {
	p := InstallPath("axond")
	if runtime.GOOS == "windows" {
		if filepath.Base(p) != "axond.exe" {
			t.Errorf("InstallPath = %q, want a path ending in axond.exe", p)
		}
	} else if p != "/usr/local/bin/axond" {
		t.Errorf("InstallPath = %q, want /usr/local/bin/axond", p)
	}
}

func TestInstallRequiresPrivileges(t *testing.T) {
	if IsRoot() {
		t.Skip("running privileged")
	}

	if err := Install(DefaultConfig("/tmp/axond-test.yaml")); err == nil {
		t.Error("Install succeeded without privileges")
	} else if !strings.Contains(err.Error(), "root/administrator") {
		t.Errorf("Install error = %q, want a privileges error", err)
	}
}

func TestUninstallRequiresPrivileges(t *testing.T) {
	if IsRoot() {
		t.Skip("running privileged")
	}
	if IsUserInstalled() {
		t.Skip("a user service is installed, Uninstall would target it")
	}

	if err := Uninstall("axond-test"); err == nil {
		t.Error("Uninstall succeeded without privileges")
	}
}

func TestIsInstalledUnknownService(t *testing.T) {
	if IsInstalled("axond-test-no-such-service") {
		t.Error("IsInstalled reported an uninstalled service as present")
	}
}

func TestStatusUnknownService(t *testing.T) {
	status, err := Status("axond-test-no-such-service")
	if err != nil {
		// Minimal environments without a service manager are fine.
		t.Skipf("status query unavailable: %v", err)
	}

	var accepted []string
	switch runtime.GOOS {
	case "linux":
		accepted = []string{"inactive", "failed", "unknown", "not installed"}
	case "darwin":
		accepted = []string{"not installed", "unknown"}
	default:
		accepted = []string{"not installed", "stopped", "unknown"}
	}
	for _, a := range accepted {
		if status == a {
			return
		}
	}
	t.Errorf("Status = %q for an unknown service", status)
}

func TestUserServiceOutsideLinux(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Skip("linux has a real implementation")
	}

	if IsUserInstalled() {
		t.Error("IsUserInstalled() = true outside linux")
	}
	if err := InstallUser(DefaultConfig("/tmp/axond-test.yaml")); err == nil {
		t.Error("InstallUser succeeded outside linux")
	}
	if err := StartUser(); err == nil {
		t.Error("StartUser succeeded outside linux")
	}
	if err := StopUser(); err == nil {
		t.Error("StopUser succeeded outside linux")
	}
	if _, err := StatusUser(); err == nil {
		t.Error("StatusUser succeeded outside linux")
	}
}
