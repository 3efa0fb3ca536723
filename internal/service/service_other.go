//go:build !linux && !windows && !darwin

package service

import (
	"fmt"
	"runtime"
)

func errUnsupported() error {
	return fmt.Errorf("service management is not supported on %s", runtime.GOOS)
}

func platformIsAdmin() bool {
	return false
}

func platformInstall(cfg Config, execPath string) error {
	return errUnsupported()
}

func platformUninstall(serviceName string) error {
	return errUnsupported()
}

func platformStatus(serviceName string) (string, error) {
	return "", errUnsupported()
}

func platformInstalled(serviceName string) bool {
	return false
}

func platformInteractive() bool {
	return true
}

func platformRun(name string, runner Runner) error {
	return errUnsupported()
}
