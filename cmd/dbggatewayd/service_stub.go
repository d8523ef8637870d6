//go:build !linux && !windows

package main

import "fmt"

// stubServiceManager reports an explicit error on every platform without a
// dedicated service integration, instead of silently pretending to succeed.
type stubServiceManager struct{}

func NewServiceManager() (ServiceManager, error) {
	return &stubServiceManager{}, nil
}

var errUnsupportedPlatform = fmt.Errorf("service management is not supported on this platform; run `dbggatewayd run` directly")

func (s *stubServiceManager) Install(config ServiceConfig) error { return errUnsupportedPlatform }
func (s *stubServiceManager) Uninstall() error                   { return errUnsupportedPlatform }
func (s *stubServiceManager) Start() error                       { return errUnsupportedPlatform }
func (s *stubServiceManager) Stop() error                        { return errUnsupportedPlatform }
func (s *stubServiceManager) Restart() error                     { return errUnsupportedPlatform }
func (s *stubServiceManager) Status() (ServiceStatus, error) {
	return ServiceStatus{}, errUnsupportedPlatform
}
func (s *stubServiceManager) IsInstalled() bool { return false }
func (s *stubServiceManager) GetLogs(lines int) ([]LogEntry, error) {
	return nil, errUnsupportedPlatform
}
