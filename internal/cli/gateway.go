package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/NetClaw/internal/bus"
	"github.com/KafClaw/NetClaw/internal/channels"
	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/gateway"
	"github.com/KafClaw/NetClaw/internal/metrics"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the HTTP API and the Slack adapter",
	RunE:  runGateway,
}

var (
	gatewaySignalNotify = signal.Notify
	gatewaySignalStop   = signal.Stop
)

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Logging.Level)
	printHeader(cmd.OutOrStdout(), "🌐 NetClaw Gateway")

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	gatewaySignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer gatewaySignalStop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	rt.start(ctx)
	defer rt.close()
	// rt.close waits on the publisher, which needs ctx cancelled first.
	defer cancel()

	msgBus := bus.NewMessageBus()
	var g errgroup.Group
	g.Go(func() error { return msgBus.DispatchOutbound(ctx) })
	g.Go(func() error {
		return gateway.NewDispatcher(msgBus, rt.loop, rt.executor, nil).Run(ctx)
	})

	if cfg.Slack.Enabled() {
		var ch channels.Channel = channels.NewSlackChannel(cfg.Slack, msgBus, nil)
		if err := ch.Start(ctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
		defer ch.Stop()
	} else {
		slog.Info("Slack not configured; chat adapter disabled")
	}

	if cfg.Gateway.AuthToken == "" {
		slog.Warn("Gateway auth token not set; HTTP API is unauthenticated")
	}
	server := gateway.NewServer(gateway.Options{
		Agent:       rt.loop,
		Actions:     rt.executor,
		Store:       rt.store,
		AuthToken:   cfg.Gateway.AuthToken,
		RequireUser: cfg.Approvals.RequesterOnly,
		Ready:       rt.ready,
		Metrics:     metrics.Handler(rt.registry),
		Version:     version,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	var serveErr error
	g.Go(func() error {
		serveErr = server.ListenAndServe(ctx, addr)
		cancel()
		return nil
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (model %s, site %s)\n", addr, cfg.Model.Name, cfg.Controller.Site)
	_ = g.Wait()
	if serveErr != nil {
		return fmt.Errorf("api server: %w", serveErr)
	}
	return nil
}
