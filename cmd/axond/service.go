package main

import (
	"fmt"

	"github.com/axonlab/axond/internal/service"
	"github.com/spf13/cobra"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the system service",
		Long: `Install and manage axond as a system service. Uses systemd on
Linux, launchd on macOS and the Service Control Manager on Windows.
On Linux a cron-based user service is available without root.`,
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceStatusCmd())
	cmd.AddCommand(serviceStartCmd())
	cmd.AddCommand(serviceStopCmd())

	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var configPath, runAsUser, runAsGroup string
	var userMode bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install axond as a service",
		Long: `Install axond as a system service that starts on boot. The config
file path is baked into the service definition, so move the config
before installing, not after. With --user the service is installed
for the current user via cron, without requiring root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsSupported() {
				return fmt.Errorf("service installation is not supported on %s", service.Platform())
			}

			cfg := service.DefaultConfig(configPath)
			cfg.User = runAsUser
			cfg.Group = runAsGroup

			if userMode {
				if err := service.InstallUser(cfg); err != nil {
					return fmt.Errorf("failed to install user service: %w", err)
				}
				return nil
			}

			if err := service.Install(cfg); err != nil {
				return fmt.Errorf("failed to install service: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&userMode, "user", false, "Install as a user service (Linux only, no root required)")
	cmd.Flags().StringVar(&runAsUser, "run-as-user", "", "User to run the service as (Linux only)")
	cmd.Flags().StringVar(&runAsGroup, "run-as-group", "", "Group to run the service as (Linux only)")

	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed service",
		Long:  "Stop and remove the axond service. Detects whether a system or user service is installed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.Uninstall("axond"); err != nil {
				return fmt.Errorf("failed to uninstall service: %w", err)
			}
			return nil
		},
	}
}

func serviceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long:  "Display whether the axond service is installed and running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsInstalled("axond") && !service.IsUserInstalled() {
				fmt.Println("Service is not installed.")
				return nil
			}

			status, err := service.Status("axond")
			if err != nil {
				return fmt.Errorf("failed to get service status: %w", err)
			}

			fmt.Printf("Platform: %s\n", service.Platform())
			fmt.Printf("Status:   %s\n", status)
			return nil
		},
	}
}

func serviceStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the user service",
		Long:  "Start the installed user service (Linux only). System services are started through the platform service manager.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.StartUser(); err != nil {
				return fmt.Errorf("failed to start service: %w", err)
			}
			fmt.Println("Service started.")
			return nil
		},
	}
}

func serviceStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the user service",
		Long:  "Stop the running user service (Linux only). System services are stopped through the platform service manager.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.StopUser(); err != nil {
				return fmt.Errorf("failed to stop service: %w", err)
			}
			fmt.Println("Service stopped.")
			return nil
		},
	}
}
