// Command dbggatewayd is the debugger session gateway daemon: it owns the Session
// Manager and exposes it over HTTP+SSE and/or newline-delimited stdio, and it can
// install itself as a platform service for unattended operation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sascodiego/dbggateway/internal/config"
	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/internal/queue"
	"github.com/sascodiego/dbggateway/internal/rpc"
	"github.com/sascodiego/dbggateway/internal/session"
	"github.com/sascodiego/dbggateway/internal/transport/httpsse"
	"github.com/sascodiego/dbggateway/internal/transport/stdio"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

var (
	Version   = "0.1.0"
	BuildTime = "development"
	GitCommit = "unknown"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "dbggatewayd",
		Short: "Debugger session gateway daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON configuration file")

	root.AddCommand(runCommand(), versionCommand(), serviceCommand())

	if err := root.Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			infoColor.Printf("dbggatewayd %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
			return nil
		},
	}
}

func runCommand() *cobra.Command {
	var stdioOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(stdioOnly)
		},
	}
	cmd.Flags().BoolVar(&stdioOnly, "stdio", false, "speak JSON-RPC over stdin/stdout instead of binding HTTP")
	return cmd
}

func runForeground(stdioOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if stdioOnly {
		cfg.Transport.EnableStdio = true
		cfg.Transport.HTTPListenAddr = ""
	}

	log := logger.NewDefaultLogger("dbggatewayd", cfg.Logging.Level)
	bus := notify.New(log.With("notify"))

	mgr := session.NewManager(sessionOptionsFromConfig(cfg), bus, log.With("session"))
	defer mgr.Shutdown(10 * time.Second)

	handlers := rpc.NewHandlers(mgr, log.With("rpc"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.Transport.HTTPListenAddr != "" {
		server := httpsse.NewServer(handlers, bus, log.With("httpsse"))
		httpServer = &http.Server{Addr: cfg.Transport.HTTPListenAddr, Handler: server.Handler()}
		go func() {
			log.Info("HTTP+SSE transport listening", "addr", cfg.Transport.HTTPListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP transport stopped unexpectedly", "error", err)
			}
		}()
	}

	if cfg.Transport.EnableStdio {
		go stdio.Loop(os.Stdin, os.Stdout, handlers, log.With("stdio"))
	}

	successColor.Println("dbggatewayd is running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

func sessionOptionsFromConfig(cfg *config.GatewayConfig) session.Options {
	driverExecutable := cfg.Debugging.CustomDebuggerPath
	if driverExecutable == "" {
		driverExecutable = "cdb"
	}

	return session.Options{
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		SessionTimeout:        cfg.Session.SessionTimeout,
		CleanupInterval:       cfg.Session.CleanupInterval,
		DisposalTimeout:       cfg.Session.DisposalTimeout,
		DriverExecutable:      driverExecutable,
		CommandTimeout:        time.Duration(cfg.Debugging.CommandTimeoutMs) * time.Millisecond,
		QueueOptions: queue.Options{
			HeavyMarkers:     cfg.Queue.HeavyMarkers,
			LightPrefixes:    cfg.Queue.LightPrefixes,
			ComplexTimeout:   cfg.Queue.ComplexTimeout,
			DefaultTimeout:   cfg.Queue.DefaultTimeout,
			QuickTimeout:     cfg.Queue.QuickTimeout,
			MaxTimeout:       cfg.Queue.MaxTimeout,
			CommandRetention: cfg.Queue.CommandRetention,
			CleanupInterval:  cfg.Queue.CleanupInterval,
		},
	}
}
