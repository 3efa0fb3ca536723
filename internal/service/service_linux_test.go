//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSystemdUnit(t *testing.T) {
	cfg := Config{
		Name:        "axond",
		Description: "Distributed neural network daemon",
		ConfigPath:  "/etc/axond/config.yaml",
		WorkingDir:  "/etc/axond",
	}
	unit := systemdUnit(cfg, "/usr/local/bin/axond")

	for _, want := range []string{
		"[Unit]",
		"[Service]",
		"[Install]",
		"Description=Distributed neural network daemon",
		"ExecStart=/usr/local/bin/axond run -c /etc/axond/config.yaml",
		"WorkingDirectory=/etc/axond",
		"After=network-online.target",
		"Restart=on-failure",
		"RestartSec=5",
		"LimitNOFILE=65536",
		"NoNewPrivileges=true",
		"ProtectSystem=strict",
		"PrivateTmp=true",
		"ReadWritePaths=/etc/axond",
		"StandardOutput=journal",
		"SyslogIdentifier=axond",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit file missing %q", want)
		}
	}
}

func TestSystemdUnitRunAs(t *testing.T) {
	cfg := Config{
		Name:       "axond",
		ConfigPath: "/etc/axond/config.yaml",
		WorkingDir: "/etc/axond",
	}

	unit := systemdUnit(cfg, "/usr/bin/axond")
	if strings.Contains(unit, "User=") || strings.Contains(unit, "Group=") {
		t.Error("unit carries User/Group lines without a run-as user")
	}

	cfg.User = "axond"
	cfg.Group = "axond"
	unit = systemdUnit(cfg, "/usr/bin/axond")
	if !strings.Contains(unit, "User=axond\n") {
		t.Error("unit missing the configured User line")
	}
	if !strings.Contains(unit, "Group=axond\n") {
		t.Error("unit missing the configured Group line")
	}
}

func TestUserUnitPaths(t *testing.T) {
	u, err := userUnit()
	if err != nil {
		t.Fatalf("userUnit: %v", err)
	}

	home, _ := os.UserHomeDir()
	if u.dir != filepath.Join(home, ".axond") {
		t.Errorf("dir = %q, want it under the home directory", u.dir)
	}
	if filepath.Dir(u.script()) != u.dir || filepath.Dir(u.pidFile()) != u.dir {
		t.Error("script and pid file must live in the service directory")
	}
}

func TestWrapperScript(t *testing.T) {
	u := &cronUnit{dir: "/home/worker/.axond"}
	script := u.wrapperScript("/home/worker/node/config.yaml", "/usr/local/bin/axond")

	if !strings.HasPrefix(script, "#!/bin/sh") {
		t.Error("script missing shebang")
	}
	for _, want := range []string{
		`PIDFILE="/home/worker/.axond/axond.pid"`,
		`LOGFILE="/home/worker/.axond/axond.log"`,
		`cd "/home/worker/node"`,
		`nohup "/usr/local/bin/axond" run -c "/home/worker/node/config.yaml"`,
		"kill -0",
		`echo $! > "$PIDFILE"`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q", want)
		}
	}
}

func TestWrapperScriptQuotesSpaces(t *testing.T) {
	u := &cronUnit{dir: "/home/test user/.axond"}
	script := u.wrapperScript("/home/test user/conf.yaml", "/opt/axon daemon/axond")

	if !strings.Contains(script, `"/home/test user/conf.yaml"`) {
		t.Error("config path with spaces not quoted")
	}
	if !strings.Contains(script, `"/opt/axon daemon/axond"`) {
		t.Error("binary path with spaces not quoted")
	}
}

func TestLivePID(t *testing.T) {
	u := &cronUnit{dir: t.TempDir()}

	if _, ok := u.livePID(); ok {
		t.Error("livePID true without a pid file")
	}

	os.WriteFile(u.pidFile(), []byte("not-a-pid\n"), 0644)
	if _, ok := u.livePID(); ok {
		t.Error("livePID true for a garbage pid file")
	}

	// The test process itself is certainly alive.
	os.WriteFile(u.pidFile(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
	pid, ok := u.livePID()
	if !ok || pid != os.Getpid() {
		t.Errorf("livePID = %d/%v, want %d/true", pid, ok, os.Getpid())
	}
}

func TestStatusUserNotInstalled(t *testing.T) {
	if IsUserInstalled() {
		t.Skip("a user service is installed on this host")
	}

	status, err := StatusUser()
	if err != nil {
		t.Fatalf("StatusUser: %v", err)
	}
	if status != "not installed" {
		t.Errorf("StatusUser = %q, want %q", status, "not installed")
	}
}

func TestErrNoCrontabMessage(t *testing.T) {
	if !strings.Contains(ErrNoCrontab.Error(), "crontab") {
		t.Errorf("ErrNoCrontab = %q, should name crontab", ErrNoCrontab)
	}
}

// TestCrontabRegistration exercises the real crontab round trip. It
// rewrites the invoking user's crontab, so it only runs when opted in.
func TestCrontabRegistration(t *testing.T) {
	if os.Getenv("TEST_CRON_INTEGRATION") != "1" {
		t.Skip("set TEST_CRON_INTEGRATION=1 to run")
	}
	if _, err := os.Stat("/usr/bin/crontab"); err != nil {
		if _, err := os.Stat("/bin/crontab"); err != nil {
			t.Skip("crontab not available")
		}
	}

	u := &cronUnit{dir: t.TempDir()}
	os.WriteFile(u.script(), []byte("#!/bin/sh\nexit 0\n"), 0755)

	if u.registered() {
		t.Skip("an axond cron entry already exists")
	}

	if err := u.register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer u.unregister()

	if !u.registered() {
		t.Fatal("entry not visible after register")
	}
	if err := u.register(); err == nil {
		t.Error("duplicate register did not fail")
	}

	if err := u.unregister(); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if u.registered() {
		t.Error("entry still present after unregister")
	}
}
