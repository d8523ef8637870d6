package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage dbggatewayd as a platform service",
	}
	cmd.AddCommand(
		serviceInstallCommand(),
		serviceUninstallCommand(),
		serviceStartCommand(),
		serviceStopCommand(),
		serviceRestartCommand(),
		serviceStatusCommand(),
		serviceLogsCommand(),
	)
	return cmd
}

func serviceInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Register dbggatewayd with the platform service manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate dbggatewayd executable: %w", err)
			}
			if err := mgr.Install(defaultServiceConfig(execPath)); err != nil {
				return err
			}
			successColor.Println("service installed")
			return nil
		},
	}
}

func serviceUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the dbggatewayd service registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Uninstall(); err != nil {
				return err
			}
			successColor.Println("service uninstalled")
			return nil
		},
	}
}

func serviceStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Start(); err != nil {
				return err
			}
			successColor.Println("service started")
			return nil
		},
	}
}

func serviceStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Stop(); err != nil {
				return err
			}
			successColor.Println("service stopped")
			return nil
		},
	}
}

func serviceRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Restart(); err != nil {
				return err
			}
			successColor.Println("service restarted")
			return nil
		},
	}
}

func serviceStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report service state",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			status, err := mgr.Status()
			if err != nil {
				return err
			}
			infoColor.Printf("%s: %s", status.Name, status.State)
			if status.PID > 0 {
				fmt.Printf(" (pid %d, uptime %s)", status.PID, status.Uptime)
			}
			fmt.Println()
			if status.LastError != "" {
				errorColor.Printf("last error: %s\n", status.LastError)
			}
			return nil
		},
	}
}

func serviceLogsCommand() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent service log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := NewServiceManager()
			if err != nil {
				return err
			}
			entries, err := mgr.GetLogs(lines)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s [%s] %s\n", e.Time.Format("2006-01-02T15:04:05"), e.Level, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 50, "number of log lines to show")
	return cmd
}
