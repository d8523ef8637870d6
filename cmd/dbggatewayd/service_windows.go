//go:build windows

package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

// WindowsServiceManager drives dbggatewayd through the Windows Service Control
// Manager, the same way a native Windows service installer would.
type WindowsServiceManager struct {
	serviceName string
	eventLog    *eventlog.Log
}

func NewServiceManager() (ServiceManager, error) {
	eventLog, _ := eventlog.Open("dbggatewayd")
	return &WindowsServiceManager{serviceName: "dbggatewayd", eventLog: eventLog}, nil
}

func (w *WindowsServiceManager) Install(config ServiceConfig) error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service control manager: %w", err)
	}
	defer scm.Disconnect()

	if existing, err := scm.OpenService(config.Name); err == nil {
		existing.Close()
		return fmt.Errorf("service '%s' already exists", config.Name)
	}

	svcConfig := mgr.Config{
		ServiceType:    windows.SERVICE_WIN32_OWN_PROCESS,
		StartType:      mgr.StartAutomatic,
		ErrorControl:   mgr.ErrorNormal,
		BinaryPathName: fmt.Sprintf(`"%s" %s`, config.ExecutablePath, strings.Join(config.Arguments, " ")),
		DisplayName:    config.DisplayName,
		Description:    config.Description,
	}

	service, err := scm.CreateService(config.Name, config.ExecutablePath, svcConfig)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer service.Close()

	if err := eventlog.InstallAsEventCreate(config.Name, eventlog.Info|eventlog.Warning|eventlog.Error); err != nil && w.eventLog == nil {
		if log, openErr := eventlog.Open(config.Name); openErr == nil {
			w.eventLog = log
		}
	}
	return nil
}

func (w *WindowsServiceManager) Uninstall() error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service control manager: %w", err)
	}
	defer scm.Disconnect()

	service, err := scm.OpenService(w.serviceName)
	if err != nil {
		return fmt.Errorf("service not found: %w", err)
	}
	defer service.Close()

	if status, err := service.Query(); err == nil && status.State != svc.Stopped {
		if err := w.stopWithTimeout(service, 30*time.Second); err != nil {
			return fmt.Errorf("stop service before uninstall: %w", err)
		}
	}

	if err := service.Delete(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	eventlog.Remove(w.serviceName)
	if w.eventLog != nil {
		w.eventLog.Close()
		w.eventLog = nil
	}
	return nil
}

func (w *WindowsServiceManager) Start() error {
	service, scm, err := w.open()
	if err != nil {
		return err
	}
	defer scm.Disconnect()
	defer service.Close()

	if err := service.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return w.waitForState(service, svc.Running, 30*time.Second)
}

func (w *WindowsServiceManager) Stop() error {
	service, scm, err := w.open()
	if err != nil {
		return err
	}
	defer scm.Disconnect()
	defer service.Close()
	return w.stopWithTimeout(service, 30*time.Second)
}

func (w *WindowsServiceManager) Restart() error {
	if err := w.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	time.Sleep(2 * time.Second)
	return w.Start()
}

func (w *WindowsServiceManager) Status() (ServiceStatus, error) {
	service, scm, err := w.open()
	if err != nil {
		return ServiceStatus{}, err
	}
	defer scm.Disconnect()
	defer service.Close()

	status, err := service.Query()
	if err != nil {
		return ServiceStatus{}, fmt.Errorf("query service status: %w", err)
	}
	return ServiceStatus{Name: w.serviceName, State: convertState(status.State), PID: int(status.ProcessId)}, nil
}

func (w *WindowsServiceManager) IsInstalled() bool {
	scm, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer scm.Disconnect()
	service, err := scm.OpenService(w.serviceName)
	if err != nil {
		return false
	}
	service.Close()
	return true
}

func (w *WindowsServiceManager) GetLogs(lines int) ([]LogEntry, error) {
	return nil, fmt.Errorf("log retrieval from the Windows event log is not implemented; use Event Viewer")
}

func (w *WindowsServiceManager) open() (*mgr.Service, *mgr.Mgr, error) {
	scm, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to service control manager: %w", err)
	}
	service, err := scm.OpenService(w.serviceName)
	if err != nil {
		scm.Disconnect()
		return nil, nil, fmt.Errorf("open service: %w", err)
	}
	return service, scm, nil
}

func (w *WindowsServiceManager) stopWithTimeout(service *mgr.Service, timeout time.Duration) error {
	if _, err := service.Control(svc.Stop); err != nil {
		return fmt.Errorf("send stop control: %w", err)
	}
	return w.waitForState(service, svc.Stopped, timeout)
}

func (w *WindowsServiceManager) waitForState(service *mgr.Service, target svc.State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := service.Query()
		if err != nil {
			return err
		}
		if status.State == target {
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for service to reach state %v", target)
}

func convertState(state svc.State) ServiceState {
	switch state {
	case svc.Running:
		return ServiceStateRunning
	case svc.StartPending:
		return ServiceStateStarting
	case svc.StopPending:
		return ServiceStateStopping
	case svc.Stopped:
		return ServiceStateStopped
	default:
		return ServiceStateUnknown
	}
}
