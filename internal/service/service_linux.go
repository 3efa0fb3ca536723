//go:build linux

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const unitDir = "/etc/systemd/system"

func unitPath(serviceName string) string {
	return filepath.Join(unitDir, serviceName+".service")
}

func platformIsAdmin() bool {
	return os.Getuid() == 0
}

func platformInstall(cfg Config, execPath string) error {
	path := unitPath(cfg.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	if err := os.WriteFile(path, []byte(systemdUnit(cfg, execPath)), 0644); err != nil {
		return fmt.Errorf("write systemd unit: %w", err)
	}
	fmt.Printf("Created systemd unit: %s\n", path)

	if out, err := run("systemctl", "daemon-reload"); err != nil {
		os.Remove(path)
		return fmt.Errorf("reload systemd: %s: %w", out, err)
	}
	if out, err := run("systemctl", "enable", cfg.Name); err != nil {
		return fmt.Errorf("enable service: %s: %w", out, err)
	}
	fmt.Printf("Enabled service: %s\n", cfg.Name)

	if out, err := run("systemctl", "start", cfg.Name); err != nil {
		return fmt.Errorf("start service: %s: %w", out, err)
	}
	fmt.Printf("Started service: %s\n", cfg.Name)
	return nil
}

func platformUninstall(serviceName string) error {
	path := unitPath(serviceName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", serviceName)
	}

	// Stopping and disabling may fail when the unit was never loaded;
	// removal proceeds either way.
	if out, err := run("systemctl", "stop", serviceName); err != nil {
		if !strings.Contains(out, "not loaded") {
			fmt.Printf("Note: could not stop service: %s\n", out)
		}
	} else {
		fmt.Printf("Stopped service: %s\n", serviceName)
	}
	if out, err := run("systemctl", "disable", serviceName); err != nil {
		if !strings.Contains(out, "not loaded") {
			fmt.Printf("Note: could not disable service: %s\n", out)
		}
	} else {
		fmt.Printf("Disabled service: %s\n", serviceName)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove systemd unit: %w", err)
	}
	fmt.Printf("Removed systemd unit: %s\n", path)

	if _, err := run("systemctl", "daemon-reload"); err != nil {
		fmt.Println("Note: systemd daemon-reload failed")
	}
	run("systemctl", "reset-failed", serviceName)
	return nil
}

func platformStatus(serviceName string) (string, error) {
	state, err := run("systemctl", "is-active", serviceName)
	if err != nil {
		// is-active exits non-zero for anything but "active" and
		// prints the state anyway.
		if state == "inactive" || state == "failed" || state == "unknown" {
			return state, nil
		}
		return "", fmt.Errorf("query service state: %w", err)
	}
	return state, nil
}

func platformInstalled(serviceName string) bool {
	_, err := os.Stat(unitPath(serviceName))
	return err == nil
}

// systemd owns start, stop and restart through the unit, so the
// daemon always runs as a plain foreground process here.
func platformInteractive() bool {
	return true
}

func platformRun(name string, runner Runner) error {
	return nil
}

// systemdUnit renders the unit definition. The daemon gets a strict
// sandbox: only the working directory next to the config is writable,
// which is where the identity and certificates live.
func systemdUnit(cfg Config, execPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", cfg.Description)
	fmt.Fprintf(&b, "Documentation=https://github.com/axonlab/axond\n")
	fmt.Fprintf(&b, "Wants=network-online.target\n")
	fmt.Fprintf(&b, "After=network-online.target\n\n")

	fmt.Fprintf(&b, "[Service]\n")
	fmt.Fprintf(&b, "Type=simple\n")
	fmt.Fprintf(&b, "ExecStart=%s run -c %s\n", execPath, cfg.ConfigPath)
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", cfg.WorkingDir)
	if cfg.User != "" {
		fmt.Fprintf(&b, "User=%s\n", cfg.User)
	}
	if cfg.Group != "" {
		fmt.Fprintf(&b, "Group=%s\n", cfg.Group)
	}
	fmt.Fprintf(&b, "Restart=on-failure\n")
	fmt.Fprintf(&b, "RestartSec=5\n")
	fmt.Fprintf(&b, "TimeoutStopSec=30\n")
	fmt.Fprintf(&b, "LimitNOFILE=65536\n\n")

	fmt.Fprintf(&b, "NoNewPrivileges=true\n")
	fmt.Fprintf(&b, "ProtectSystem=strict\n")
	fmt.Fprintf(&b, "ProtectHome=read-only\n")
	fmt.Fprintf(&b, "PrivateTmp=true\n")
	fmt.Fprintf(&b, "ReadWritePaths=%s\n\n", cfg.WorkingDir)

	fmt.Fprintf(&b, "StandardOutput=journal\n")
	fmt.Fprintf(&b, "StandardError=journal\n")
	fmt.Fprintf(&b, "SyslogIdentifier=%s\n\n", cfg.Name)

	fmt.Fprintf(&b, "[Install]\n")
	fmt.Fprintf(&b, "WantedBy=multi-user.target\n")
	return b.String()
}

// Rootless installs fall back to a crontab @reboot entry that runs a
// small wrapper script under nohup. State lives in ~/.axond.

const cronTag = "# axond-user-service"

type cronUnit struct {
	dir string
}

func userUnit() (*cronUnit, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &cronUnit{dir: filepath.Join(home, ".axond")}, nil
}

func (u *cronUnit) script() string  { return filepath.Join(u.dir, "axond.sh") }
func (u *cronUnit) pidFile() string { return filepath.Join(u.dir, "axond.pid") }
func (u *cronUnit) logFile() string { return filepath.Join(u.dir, "axond.log") }

// InstallUser writes the wrapper script, registers the @reboot entry
// and starts the daemon immediately. No root required.
func InstallUser(cfg Config) error {
	if _, err := exec.LookPath("crontab"); err != nil {
		return ErrNoCrontab
	}
	u, err := userUnit()
	if err != nil {
		return err
	}
	if u.registered() {
		return fmt.Errorf("user service is already installed")
	}
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", u.dir, err)
	}

	execPath, err := resolveExecutable()
	if err != nil {
		return err
	}
	configPath, err := filepath.Abs(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	if err := os.WriteFile(u.script(), []byte(u.wrapperScript(configPath, execPath)), 0755); err != nil {
		return fmt.Errorf("write wrapper script: %w", err)
	}
	fmt.Printf("Created wrapper script: %s\n", u.script())

	if err := u.register(); err != nil {
		os.Remove(u.script())
		return fmt.Errorf("register cron entry: %w", err)
	}
	fmt.Println("Added @reboot cron entry")

	if err := StartUser(); err != nil {
		fmt.Printf("Note: could not start now: %v\n", err)
		fmt.Println("The daemon will start on the next reboot")
	} else {
		fmt.Println("Started service")
	}
	fmt.Printf("\nLog file: %s\n", u.logFile())
	return nil
}

// UninstallUser stops the daemon and removes the cron entry and
// wrapper script. The log file stays behind.
func UninstallUser() error {
	u, err := userUnit()
	if err != nil {
		return err
	}
	if !u.registered() {
		return fmt.Errorf("user service is not installed")
	}

	if err := StopUser(); err != nil {
		fmt.Printf("Note: could not stop service: %v\n", err)
	} else {
		fmt.Println("Stopped service")
	}
	if err := u.unregister(); err != nil {
		fmt.Printf("Note: could not remove cron entry: %v\n", err)
	} else {
		fmt.Println("Removed cron entry")
	}
	if err := os.Remove(u.script()); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Note: could not remove script: %v\n", err)
	} else {
		fmt.Printf("Removed wrapper script: %s\n", u.script())
	}
	os.Remove(u.pidFile())

	fmt.Printf("\nLog file preserved at %s\n", u.logFile())
	return nil
}

// StatusUser reports the user service state from its pid file.
func StatusUser() (string, error) {
	u, err := userUnit()
	if err != nil {
		return "", err
	}
	if !u.registered() {
		return "not installed", nil
	}
	pid, ok := u.livePID()
	if !ok {
		return "stopped", nil
	}
	return fmt.Sprintf("running (pid %d)", pid), nil
}

// StartUser runs the wrapper script, which is a no-op when the daemon
// is already up.
func StartUser() error {
	u, err := userUnit()
	if err != nil {
		return err
	}
	if _, err := os.Stat(u.script()); os.IsNotExist(err) {
		return fmt.Errorf("user service is not installed")
	}
	if pid, ok := u.livePID(); ok {
		return fmt.Errorf("already running (pid %d)", pid)
	}
	if out, err := exec.Command("/bin/sh", u.script()).CombinedOutput(); err != nil {
		return fmt.Errorf("run wrapper script: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// StopUser terminates the daemon recorded in the pid file.
func StopUser() error {
	u, err := userUnit()
	if err != nil {
		return err
	}
	pid, ok := u.livePID()
	if !ok {
		os.Remove(u.pidFile())
		return fmt.Errorf("service is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		os.Remove(u.pidFile())
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	os.Remove(u.pidFile())
	return nil
}

// IsUserInstalled reports whether the crontab carries our entry.
func IsUserInstalled() bool {
	u, err := userUnit()
	if err != nil {
		return false
	}
	return u.registered()
}

// livePID reads the pid file and probes the process with signal 0.
func (u *cronUnit) livePID() (int, bool) {
	data, err := os.ReadFile(u.pidFile())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if syscall.Kill(pid, 0) != nil {
		return 0, false
	}
	return pid, true
}

func (u *cronUnit) registered() bool {
	out, err := exec.Command("crontab", "-l").CombinedOutput()
	return err == nil && strings.Contains(string(out), cronTag)
}

func (u *cronUnit) wrapperScript(configPath, execPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# Wrapper managed by "axond service install --user". It starts the
# daemon under nohup and records the pid; rerunning while the daemon
# is alive is a no-op.

PIDFILE=%q
LOGFILE=%q

if [ -f "$PIDFILE" ] && kill -0 "$(cat "$PIDFILE")" 2>/dev/null; then
    echo "axond already running (pid $(cat "$PIDFILE"))"
    exit 0
fi
rm -f "$PIDFILE"

cd %q
nohup %q run -c %q >> "$LOGFILE" 2>&1 &
echo $! > "$PIDFILE"
echo "axond started (pid $!)"
`, u.pidFile(), u.logFile(), filepath.Dir(configPath), execPath, configPath)
}

// register appends our @reboot line to the user's crontab, keeping
// whatever else is there.
func (u *cronUnit) register() error {
	existing, err := readCrontab()
	if err != nil {
		return err
	}
	if strings.Contains(existing, cronTag) {
		return fmt.Errorf("cron entry already present")
	}

	var next strings.Builder
	if existing != "" {
		next.WriteString(existing)
		if !strings.HasSuffix(existing, "\n") {
			next.WriteByte('\n')
		}
	}
	fmt.Fprintf(&next, "@reboot /bin/sh %s %s\n", u.script(), cronTag)
	return writeCrontab(next.String())
}

// unregister filters our tagged line back out of the crontab and
// removes the crontab entirely when nothing else remains.
func (u *cronUnit) unregister() error {
	existing, err := readCrontab()
	if err != nil {
		return err
	}

	var kept []string
	for _, line := range strings.Split(existing, "\n") {
		if strings.Contains(line, cronTag) {
			continue
		}
		kept = append(kept, line)
	}
	remainder := strings.TrimSpace(strings.Join(kept, "\n"))
	if remainder == "" {
		out, err := exec.Command("crontab", "-r").CombinedOutput()
		if err != nil && !strings.Contains(string(out), "no crontab") {
			return fmt.Errorf("remove crontab: %s", strings.TrimSpace(string(out)))
		}
		return nil
	}
	return writeCrontab(remainder + "\n")
}

func readCrontab() (string, error) {
	out, err := exec.Command("crontab", "-l").CombinedOutput()
	if err != nil {
		// A user without a crontab is fine, anything else is not.
		if strings.Contains(string(out), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("read crontab: %s", strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func writeCrontab(content string) error {
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("write crontab: %s", strings.TrimSpace(string(out)))
	}
	return nil
}
