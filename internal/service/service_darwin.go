//go:build darwin

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const launchDaemonDir = "/Library/LaunchDaemons"

func launchdLabel(serviceName string) string {
	return "com.axonlab." + serviceName
}

func plistPath(serviceName string) string {
	return filepath.Join(launchDaemonDir, launchdLabel(serviceName)+".plist")
}

func platformIsAdmin() bool {
	return os.Getuid() == 0
}

func platformInstall(cfg Config, execPath string) error {
	path := plistPath(cfg.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	if err := os.WriteFile(path, []byte(launchdPlist(cfg, execPath)), 0644); err != nil {
		return fmt.Errorf("write launchd plist: %w", err)
	}
	fmt.Printf("Created launchd plist: %s\n", path)

	if out, err := run("launchctl", "load", "-w", path); err != nil {
		os.Remove(path)
		return fmt.Errorf("load service: %s: %w", out, err)
	}
	fmt.Printf("Loaded service: %s\n", launchdLabel(cfg.Name))

	if state, _ := platformStatus(cfg.Name); state != "" {
		fmt.Printf("Service status: %s\n", state)
	}
	return nil
}

func platformUninstall(serviceName string) error {
	path := plistPath(serviceName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", serviceName)
	}

	// Unload stops the daemon; tolerate a plist that was never loaded.
	if out, err := run("launchctl", "unload", "-w", path); err != nil {
		if !strings.Contains(out, "Could not find specified service") {
			fmt.Printf("Note: could not unload service: %s\n", out)
		}
	} else {
		fmt.Printf("Unloaded service: %s\n", launchdLabel(serviceName))
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove launchd plist: %w", err)
	}
	fmt.Printf("Removed launchd plist: %s\n", path)
	return nil
}

func platformStatus(serviceName string) (string, error) {
	label := launchdLabel(serviceName)

	out, err := run("launchctl", "list", label)
	if err != nil {
		if strings.Contains(out, "Could not find service") {
			return "not installed", nil
		}
		return "unknown", nil
	}

	// "launchctl list <label>" prints pid, last exit status and label;
	// a dash in the pid column means the job is loaded but not running.
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[2] == label {
			if fields[0] == "-" {
				return "stopped", nil
			}
			return "running", nil
		}
	}

	// Newer launchctl variants answer "print" instead.
	out, _ = run("launchctl", "print", "system/"+label)
	switch {
	case strings.Contains(out, "state = running"):
		return "running", nil
	case strings.Contains(out, "state = not running"):
		return "stopped", nil
	}
	return "loaded", nil
}

func platformInstalled(serviceName string) bool {
	_, err := os.Stat(plistPath(serviceName))
	return err == nil
}

// launchd owns the process lifecycle, the daemon just runs in the
// foreground.
func platformInteractive() bool {
	return true
}

func platformRun(name string, runner Runner) error {
	return nil
}

// launchdPlist renders the daemon definition. KeepAlive restarts the
// daemon on crashes but not on clean exits, with a throttle so a
// broken config cannot busy-loop launchd.
func launchdPlist(cfg Config, execPath string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>

    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>run</string>
        <string>-c</string>
        <string>%s</string>
    </array>

    <key>WorkingDirectory</key>
    <string>%s</string>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>

    <key>ThrottleInterval</key>
    <integer>5</integer>

    <key>StandardOutPath</key>
    <string>%s</string>

    <key>StandardErrorPath</key>
    <string>%s</string>

    <key>ProcessType</key>
    <string>Background</string>
</dict>
</plist>
`,
		launchdLabel(cfg.Name),
		execPath,
		cfg.ConfigPath,
		cfg.WorkingDir,
		filepath.Join(cfg.WorkingDir, cfg.Name+".log"),
		filepath.Join(cfg.WorkingDir, cfg.Name+".err.log"),
	)
}
