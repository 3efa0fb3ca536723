//go:build !linux

package service

import "errors"

// The crontab-based user service only exists on Linux. These stubs
// keep the cross-platform callers in service.go compiling; the
// IsUserInstalled gate means none of the error paths are reachable
// through Status or Uninstall.

var errUserServiceLinuxOnly = errors.New("user services are only supported on Linux")

// InstallUser is unavailable outside Linux.
func InstallUser(cfg Config) error {
	return errUserServiceLinuxOnly
}

// UninstallUser is unavailable outside Linux.
func UninstallUser() error {
	return errUserServiceLinuxOnly
}

// StatusUser is unavailable outside Linux.
func StatusUser() (string, error) {
	return "", errUserServiceLinuxOnly
}

// StartUser is unavailable outside Linux.
func StartUser() error {
	return errUserServiceLinuxOnly
}

// StopUser is unavailable outside Linux.
func StopUser() error {
	return errUserServiceLinuxOnly
}

// IsUserInstalled reports false outside Linux.
func IsUserInstalled() bool {
	return false
}
