//go:build linux

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LinuxServiceManager drives dbggatewayd as a systemd unit. It takes its shell
// and filesystem access through CommandExecutor/FileSystemProvider so the
// install/uninstall/status logic can be exercised without systemctl.
type LinuxServiceManager struct {
	unitFilePath string
	commandExec  CommandExecutor
	fileSystem   FileSystemProvider
}

func NewServiceManager() (ServiceManager, error) {
	return &LinuxServiceManager{
		unitFilePath: "/etc/systemd/system/dbggatewayd.service",
		commandExec:  &DefaultCommandExecutor{},
		fileSystem:   &DefaultFileSystemProvider{},
	}, nil
}

func (l *LinuxServiceManager) Install(config ServiceConfig) error {
	if l.IsInstalled() {
		return fmt.Errorf("service already installed at %s", l.unitFilePath)
	}

	unit := l.generateUnit(config)
	if err := l.fileSystem.WriteFile(l.unitFilePath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	if err := l.systemctl("daemon-reload"); err != nil {
		l.fileSystem.RemoveFile(l.unitFilePath)
		return fmt.Errorf("reload systemd daemon: %w", err)
	}
	if err := l.systemctl("enable", "dbggatewayd"); err != nil {
		return fmt.Errorf("enable service: %w", err)
	}
	return nil
}

func (l *LinuxServiceManager) Uninstall() error {
	l.systemctl("stop", "dbggatewayd")
	l.systemctl("disable", "dbggatewayd")
	if err := l.fileSystem.RemoveFile(l.unitFilePath); err != nil {
		return fmt.Errorf("remove unit file: %w", err)
	}
	return l.systemctl("daemon-reload")
}

func (l *LinuxServiceManager) Start() error   { return l.systemctl("start", "dbggatewayd") }
func (l *LinuxServiceManager) Stop() error    { return l.systemctl("stop", "dbggatewayd") }
func (l *LinuxServiceManager) Restart() error { return l.systemctl("restart", "dbggatewayd") }

func (l *LinuxServiceManager) Status() (ServiceStatus, error) {
	if !l.IsInstalled() {
		return ServiceStatus{}, fmt.Errorf("service is not installed")
	}

	output, _ := l.systemctlOutput("show", "dbggatewayd", "--property=ActiveState,MainPID,ExecMainStartTimestamp")
	status := ServiceStatus{Name: "dbggatewayd", State: parseActiveState(output), PID: parseMainPID(output)}
	if start := parseStartTimestamp(output); !start.IsZero() {
		status.StartTime = start
		status.Uptime = time.Since(start)
	}
	return status, nil
}

func (l *LinuxServiceManager) IsInstalled() bool {
	return l.fileSystem.FileExists(l.unitFilePath)
}

func (l *LinuxServiceManager) GetLogs(lines int) ([]LogEntry, error) {
	output, err := l.commandExec.Execute("journalctl", "-u", "dbggatewayd", "-n", strconv.Itoa(lines), "--no-pager", "-o", "short-iso")
	if err != nil {
		return nil, fmt.Errorf("journalctl: %w", err)
	}
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, LogEntry{Time: time.Now(), Level: "info", Message: line})
	}
	return entries, nil
}

// generateUnit mirrors the shape of a standard systemd service unit: dependency
// ordering, restart policy, and a hardened sandbox for the system-level install.
func (l *LinuxServiceManager) generateUnit(config ServiceConfig) string {
	var unit strings.Builder

	unit.WriteString("[Unit]\n")
	fmt.Fprintf(&unit, "Description=%s\n", config.Description)
	unit.WriteString("After=network.target\n\n")

	unit.WriteString("[Service]\n")
	unit.WriteString("Type=simple\n")
	if config.User != "" {
		fmt.Fprintf(&unit, "User=%s\n", config.User)
	}
	execStart := config.ExecutablePath
	if len(config.Arguments) > 0 {
		execStart += " " + strings.Join(config.Arguments, " ")
	}
	fmt.Fprintf(&unit, "ExecStart=%s\n", execStart)
	if config.WorkingDir != "" {
		fmt.Fprintf(&unit, "WorkingDirectory=%s\n", config.WorkingDir)
	}
	if config.RestartOnFailure {
		unit.WriteString("Restart=on-failure\n")
		fmt.Fprintf(&unit, "RestartSec=%d\n", int(config.RestartDelay.Seconds()))
	}
	for key, value := range config.Environment {
		fmt.Fprintf(&unit, "Environment=\"%s=%s\"\n", key, value)
	}
	unit.WriteString("KillMode=mixed\n")
	unit.WriteString("TimeoutStopSec=30\n")
	unit.WriteString("NoNewPrivileges=yes\n")
	unit.WriteString("ProtectSystem=strict\n\n")

	unit.WriteString("[Install]\n")
	unit.WriteString("WantedBy=multi-user.target\n")

	return unit.String()
}

func (l *LinuxServiceManager) systemctl(args ...string) error {
	_, err := l.commandExec.Execute("systemctl", args...)
	return err
}

func (l *LinuxServiceManager) systemctlOutput(args ...string) (string, error) {
	out, err := l.commandExec.Execute("systemctl", args...)
	return string(out), err
}

func parseActiveState(output string) ServiceState {
	switch extractProperty(output, "ActiveState") {
	case "active":
		return ServiceStateRunning
	case "activating":
		return ServiceStateStarting
	case "deactivating":
		return ServiceStateStopping
	case "failed":
		return ServiceStateFailed
	case "inactive":
		return ServiceStateStopped
	default:
		return ServiceStateUnknown
	}
}

func parseMainPID(output string) int {
	pid, err := strconv.Atoi(extractProperty(output, "MainPID"))
	if err != nil {
		return 0
	}
	return pid
}

func parseStartTimestamp(output string) time.Time {
	raw := extractProperty(output, "ExecMainStartTimestamp")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse("Mon 2006-01-02 15:04:05 MST", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func extractProperty(output, key string) string {
	prefix := key + "="
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
