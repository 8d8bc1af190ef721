package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/gateway"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		accessLog  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and its scheduler",
		Long:  "Starts the HTTP gateway together with the auto-commit tick and the cleanup schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, accessLog)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&accessLog, "access-log", false, "log every request to stderr")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, accessLog bool) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		sched.Stop(stopCtx)
	}()

	fmt.Fprintf(out, "Store: %s\n", a.cfg.Store.Driver)
	fmt.Fprintf(out, "Services: %d configured\n", len(a.cfg.Services))
	if sinks := a.notifier.Sinks(); len(sinks) > 0 {
		fmt.Fprintf(out, "Notifications: %s\n", strings.Join(sinks, ", "))
	}

	opts := gateway.StartOpts{
		Deps: gateway.Deps{
			Config:       a.cfg,
			Sessions:     a.sessions,
			Activity:     a.activity,
			Locks:        a.locks,
			AutoCommit:   a.autoCommit,
			PRWatch:      a.prWatch,
			KillSwitches: a.killSwitches,
			Limiter:      a.limiter,
			Usage:        a.usage,
			Runner:       a.runner,
			Notifier:     a.notifier,
			Version:      Version,
		},
		Port: port,
		Out:  out,
	}
	if accessLog {
		opts.AccessLog = cmd.ErrOrStderr()
	}
	return gateway.Start(ctx, opts)
}
