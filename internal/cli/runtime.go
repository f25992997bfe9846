package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/KafClaw/NetClaw/internal/agent"
	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/auditstream"
	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/executor"
	"github.com/KafClaw/NetClaw/internal/metrics"
	"github.com/KafClaw/NetClaw/internal/mfa"
	"github.com/KafClaw/NetClaw/internal/policy"
	"github.com/KafClaw/NetClaw/internal/provider"
	"github.com/KafClaw/NetClaw/internal/timeline"
	"github.com/KafClaw/NetClaw/internal/tools"
	"github.com/KafClaw/NetClaw/internal/unifi"
)

// runtime holds the components shared by the gateway and the one-shot agent.
type runtime struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	controller *unifi.Client
	store      *approval.Store
	timeline   *timeline.TimelineService
	publisher  *auditstream.Publisher
	executor   *executor.Executor
	loop       *agent.Loop
	started    bool
}

// buildClassifier returns the default rule table with any configured
// overrides applied.
func buildClassifier(cfg *config.Config) (*policy.Classifier, error) {
	classifier := policy.NewDefaultClassifier()
	if cfg.Policy.OverridesPath == "" {
		return classifier, nil
	}
	overrides, err := policy.LoadOverrides(cfg.Policy.OverridesPath)
	if err != nil {
		return nil, err
	}
	merged, err := classifier.With(overrides)
	if err != nil {
		return nil, fmt.Errorf("policy overrides %s: %w", cfg.Policy.OverridesPath, err)
	}
	slog.Info("Policy overrides loaded", "path", cfg.Policy.OverridesPath, "tools", len(overrides))
	return merged, nil
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.New(rt.registry)

	unifiOpts := unifi.Options{
		BaseURL:     cfg.Controller.BaseURL,
		Username:    cfg.Controller.Username,
		Password:    cfg.Controller.Password,
		Site:        cfg.Controller.Site,
		InsecureTLS: cfg.Controller.InsecureTLS,
		Timeout:     cfg.Controller.Timeout,
		OnReauth:    rt.metrics.Reauth,
	}
	rt.controller = unifi.NewClient(unifiOpts)
	var inventory tools.Inventory
	if cfg.Controller.APIToken != "" {
		inventory = unifi.NewIntegrationClient(unifiOpts, cfg.Controller.APIToken)
	}
	registry := tools.NewRegistry()
	tools.RegisterNetworkTools(registry, rt.controller, inventory, cfg.Controller.Site)

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return nil, err
	}

	if err := config.EnsureDir(filepath.Dir(cfg.Approvals.DBPath)); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	rt.timeline, err = timeline.NewTimelineService(cfg.Approvals.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// Open actions from a previous process can no longer be resolved.
	if n, err := rt.timeline.ExpireStalePending(time.Now()); err != nil {
		slog.Warn("Stale action expiry failed", "error", err)
	} else if n > 0 {
		slog.Info("Expired actions left open by a previous run", "count", n)
	}

	recorders := approval.MultiRecorder{rt.timeline, rt.metrics}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		rt.publisher = auditstream.NewPublisher(auditstream.Options{
			Brokers: cfg.Audit.KafkaBrokers,
			Topic:   cfg.Audit.KafkaTopic,
		})
		recorders = append(recorders, rt.publisher)
	}

	var push mfa.PushProvider
	if cfg.MFA.Enabled() {
		push = mfa.NewDuoClient(cfg.MFA.IntegrationKey, cfg.MFA.SecretKey, cfg.MFA.APIHost)
	} else {
		slog.Warn("MFA not configured; critical actions will be refused")
	}
	rt.store = approval.NewStore(approval.Options{
		TTL:           cfg.Approvals.TTL,
		Retention:     cfg.Approvals.Retention,
		RequesterOnly: cfg.Approvals.RequesterOnly,
		Escalator:     mfa.NewGate(push, cfg.MFA.User, cfg.MFA.Timeout),
		Recorder:      recorders,
	})

	rt.executor = executor.New(executor.Options{
		Registry:   registry,
		Classifier: classifier,
		Store:      rt.store,
		Observer:   rt.metrics,
	})

	prov, err := provider.Resolve(cfg)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	rt.loop = agent.NewLoop(agent.LoopOptions{
		Provider:      prov,
		Executor:      rt.executor,
		Model:         cfg.Model.Name,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MaxIterations: cfg.Model.MaxToolIterations,
		Metrics:       rt.metrics,
	})
	return rt, nil
}

// start launches the background workers. They stop when ctx is done.
func (rt *runtime) start(ctx context.Context) {
	rt.started = true
	go rt.store.RunSweeper(ctx, rt.cfg.Approvals.SweepInterval)
	if rt.publisher != nil {
		rt.publisher.Start(ctx)
	}
}

// ready reports whether the controller answers a read.
func (rt *runtime) ready(ctx context.Context) error {
	if _, err := rt.controller.Health(ctx); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	return nil
}

// close releases the store and the audit db. The start context must be
// cancelled first so the publisher can drain.
func (rt *runtime) close() {
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.publisher != nil && rt.started {
		rt.publisher.Wait()
	}
	if rt.timeline != nil {
		if err := rt.timeline.Close(); err != nil {
			slog.Warn("Audit db close failed", "error", err)
		}
	}
}
