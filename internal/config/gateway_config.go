/**
 * CONTEXT:   Gateway configuration management for the debugger session gateway
 * INPUT:     Configuration files, environment variables, and default settings
 * OUTPUT:    Validated gateway configuration with all operational parameters
 * BUSINESS:  Centralized configuration for session limits, queue timeouts, and transport
 *            binding, loaded once at startup and passed by reference to every component
 * CHANGE:    Adapted from the daemon configuration for the debugger gateway's own keys
 * RISK:      Low - configuration management with comprehensive validation and defaults
 */

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

/**
 * CONTEXT:   Root configuration structure covering every recognized configuration key
 * INPUT:     Configuration values from files, environment, and defaults
 * OUTPUT:    Complete gateway configuration ready for session manager construction
 * BUSINESS:  Every key is optional; a zero-value GatewayConfig plus defaults must be a
 *            usable configuration out of the box
 * CHANGE:    Initial gateway-specific structure
 * RISK:      Low - configuration data structure with validation methods
 */
type GatewayConfig struct {
	Debugging DebuggingConfig `json:"debugging"`
	Session   SessionConfig   `json:"session"`
	Queue     QueueConfig     `json:"queue"`
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
}

type DebuggingConfig struct {
	CommandTimeoutMs        int    `json:"commandTimeoutMs"`
	SymbolServerTimeoutMs   int    `json:"symbolServerTimeoutMs"`
	SymbolServerMaxRetries  int    `json:"symbolServerMaxRetries"`
	SymbolSearchPath        string `json:"symbolSearchPath"`
	CustomDebuggerPath      string `json:"customDebuggerPath"`
}

type SessionConfig struct {
	MaxConcurrentSessions  int           `json:"maxConcurrentSessions"`
	SessionTimeout         time.Duration `json:"sessionTimeout"`
	CleanupInterval        time.Duration `json:"cleanupInterval"`
	DisposalTimeout        time.Duration `json:"disposalTimeout"`
	MemoryCleanupThreshold int64         `json:"memoryCleanupThreshold"`
}

type QueueConfig struct {
	CommandRetention time.Duration `json:"commandRetention"`
	CleanupInterval  time.Duration `json:"cleanupInterval"`
	HeavyMarkers     []string      `json:"heavyMarkers"`
	LightPrefixes    []string      `json:"lightPrefixes"`
	ComplexTimeout   time.Duration `json:"complexTimeout"`
	DefaultTimeout   time.Duration `json:"defaultTimeout"`
	QuickTimeout     time.Duration `json:"quickTimeout"`
	MaxTimeout       time.Duration `json:"maxTimeout"`
}

// TransportConfig configures the HTTP+SSE and stdio bridges in internal/transport.
type TransportConfig struct {
	HTTPListenAddr string `json:"httpListenAddr"`
	EnableStdio    bool   `json:"enableStdio"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

/**
 * CONTEXT:   Default configuration values for the debugger gateway
 * INPUT:     No parameters, provides sensible defaults for all configuration options
 * OUTPUT:    GatewayConfig instance with production-ready default values
 * BUSINESS:  Enable zero-configuration startup while allowing customization
 * CHANGE:    Initial default configuration with the gateway's own values
 * RISK:      Low - default values chosen to be safe for unattended startup
 */
func NewDefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Debugging: DebuggingConfig{
			CommandTimeoutMs:       30000,
			SymbolServerTimeoutMs:  30000,
			SymbolServerMaxRetries: 3,
		},
		Session: SessionConfig{
			MaxConcurrentSessions:  1000,
			SessionTimeout:         30 * time.Minute,
			CleanupInterval:        5 * time.Minute,
			DisposalTimeout:        30 * time.Second,
			MemoryCleanupThreshold: 1_000_000_000,
		},
		Queue: QueueConfig{
			CommandRetention: time.Hour,
			CleanupInterval:  5 * time.Minute,
			HeavyMarkers:     []string{"!analyze", "!heap", "!locks", "!process 0 0"},
			LightPrefixes:    []string{"k", "lm", "r", "version"},
			ComplexTimeout:   30 * time.Minute,
			DefaultTimeout:   10 * time.Minute,
			QuickTimeout:     2 * time.Minute,
			MaxTimeout:       time.Hour,
		},
		Transport: TransportConfig{
			HTTPListenAddr: DefaultListenAddr,
			EnableStdio:    false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

/**
 * CONTEXT:   Load gateway configuration from file with fallback to defaults
 * INPUT:     Configuration file path (JSON format)
 * OUTPUT:    Loaded and validated gateway configuration or error
 * BUSINESS:  Allow file-based configuration while keeping every key optional
 * CHANGE:    Initial configuration loading with JSON support
 * RISK:      Medium - file I/O and JSON parsing with validation
 */
func Load(configPath string) (*GatewayConfig, error) {
	cfg := NewDefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("Warning: configuration file %s not found, using defaults\n", configPath)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

/**
 * CONTEXT:   Create gateway configuration from environment variables
 * INPUT:     Environment variables with DBGGATEWAY_ prefix
 * OUTPUT:    Gateway configuration with environment overrides applied
 * BUSINESS:  Support container and deployment environments with env var configuration
 * CHANGE:    Initial environment variable configuration support
 * RISK:      Medium - environment variable parsing with type conversion
 */
func LoadFromEnvironment() *GatewayConfig {
	cfg := NewDefaultConfig()

	if addr := os.Getenv("DBGGATEWAY_HTTP_LISTEN_ADDR"); addr != "" {
		cfg.Transport.HTTPListenAddr = addr
	}
	if level := os.Getenv("DBGGATEWAY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("DBGGATEWAY_DEBUGGER_PATH"); path != "" {
		cfg.Debugging.CustomDebuggerPath = path
	}
	if symPath := os.Getenv("DBGGATEWAY_SYMBOL_SEARCH_PATH"); symPath != "" {
		cfg.Debugging.SymbolSearchPath = symPath
	}
	if v := os.Getenv("DBGGATEWAY_MAX_SESSIONS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Session.MaxConcurrentSessions = n
		}
	}

	return cfg
}

/**
 * CONTEXT:   Validate gateway configuration for internal consistency
 * INPUT:     No parameters, validates internal configuration state
 * OUTPUT:    Error if configuration invalid, nil if valid
 * BUSINESS:  Catch obviously broken configuration before any session is created
 * CHANGE:    Initial validation implementation
 * RISK:      Low - validation only, no side effects beyond the ceiling check below
 */
func (c *GatewayConfig) Validate() error {
	if c.Debugging.CommandTimeoutMs <= 0 {
		return fmt.Errorf("debugging.commandTimeoutMs must be positive, got %d", c.Debugging.CommandTimeoutMs)
	}
	if c.Session.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("session.maxConcurrentSessions must be positive, got %d", c.Session.MaxConcurrentSessions)
	}
	if c.Session.SessionTimeout <= 0 {
		return fmt.Errorf("session.sessionTimeout must be positive, got %v", c.Session.SessionTimeout)
	}
	if c.Queue.MaxTimeout <= 0 {
		return fmt.Errorf("queue.maxTimeout must be positive, got %v", c.Queue.MaxTimeout)
	}
	if c.Queue.ComplexTimeout > c.Queue.MaxTimeout || c.Queue.DefaultTimeout > c.Queue.MaxTimeout || c.Queue.QuickTimeout > c.Queue.MaxTimeout {
		return fmt.Errorf("queue.*Timeout values must not exceed queue.maxTimeout (%v)", c.Queue.MaxTimeout)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

/**
 * CONTEXT:   Save gateway configuration to file for persistence
 * INPUT:     File path for saving configuration in JSON format
 * OUTPUT:    Error if save fails, nil on success
 * BUSINESS:  Allow configuration persistence and sharing across environments
 * CHANGE:    Initial configuration save implementation with JSON serialization
 * RISK:      Medium - file I/O with JSON serialization
 */
func (c *GatewayConfig) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}
