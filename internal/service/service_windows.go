//go:build windows

package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

func platformIsAdmin() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

func platformInstall(cfg Config, execPath string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service control manager: %w", err)
	}
	defer m.Disconnect()

	if s, err := m.OpenService(cfg.Name); err == nil {
		s.Close()
		return fmt.Errorf("service %s is already installed", cfg.Name)
	}

	s, err := m.CreateService(cfg.Name, execPath, mgr.Config{
		DisplayName:  cfg.DisplayName,
		Description:  cfg.Description,
		StartType:    mgr.StartAutomatic,
		ErrorControl: mgr.ErrorNormal,
	}, "run", "-c", cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer s.Close()
	fmt.Printf("Created Windows service: %s\n", cfg.Name)

	if err := s.Start(); err != nil {
		fmt.Printf("Note: service created but failed to start: %v\n", err)
		fmt.Printf("Start it manually with: net start %s\n", cfg.Name)
	} else {
		fmt.Printf("Started Windows service: %s\n", cfg.Name)
	}
	return nil
}

func platformUninstall(serviceName string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service control manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service %s is not installed: %w", serviceName, err)
	}
	defer s.Close()

	if st, err := s.Query(); err == nil && st.State != svc.Stopped {
		fmt.Printf("Stopping service: %s\n", serviceName)
		st, _ = s.Control(svc.Stop)
		deadline := time.Now().Add(30 * time.Second)
		for st.State != svc.Stopped && time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
			if st, err = s.Query(); err != nil {
				break
			}
		}
		fmt.Printf("Stopped service: %s\n", serviceName)
	}

	if err := s.Delete(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	fmt.Printf("Removed Windows service: %s\n", serviceName)
	return nil
}

func platformStatus(serviceName string) (string, error) {
	m, err := mgr.Connect()
	if err != nil {
		return "", fmt.Errorf("connect to service control manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return "not installed", nil
	}
	defer s.Close()

	st, err := s.Query()
	if err != nil {
		return "unknown", nil
	}
	switch st.State {
	case svc.Stopped:
		return "stopped", nil
	case svc.StartPending:
		return "starting", nil
	case svc.StopPending:
		return "stopping", nil
	case svc.Running:
		return "running", nil
	case svc.Paused:
		return "paused", nil
	}
	return "unknown", nil
}

func platformInstalled(serviceName string) bool {
	m, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return false
	}
	s.Close()
	return true
}

func platformInteractive() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		// Cannot tell, assume a shell started us.
		return true
	}
	return !isService
}

func platformRun(name string, runner Runner) error {
	return svc.Run(name, &scmHandler{runner: runner})
}

// scmHandler adapts a Runner to the SCM state machine: start the
// daemon, report Running, and shut down with a bounded deadline when
// the SCM says stop.
type scmHandler struct {
	runner Runner
}

func (h *scmHandler) Execute(args []string, req <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}
	if err := h.runner.Start(); err != nil {
		return false, 1
	}
	changes <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}

	for c := range req {
		switch c.Cmd {
		case svc.Interrogate:
			changes <- c.CurrentStatus
		case svc.Stop, svc.Shutdown:
			changes <- svc.Status{State: svc.StopPending}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := h.runner.StopWithContext(ctx)
			cancel()
			if err != nil {
				return false, 2
			}
			return false, 0
		}
	}
	return false, 0
}
