package main

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/config"
	"github.com/homereach/contact-cli/internal/cost"
	"github.com/homereach/contact-cli/internal/engine"
	"github.com/homereach/contact-cli/internal/monitoring"
	"github.com/homereach/contact-cli/internal/portal"
	"github.com/homereach/contact-cli/internal/resilience"
	"github.com/homereach/contact-cli/internal/store"
	"github.com/homereach/contact-cli/pkg/solver"
)

// automationEnv holds the store, the challenge resolver, and the portal
// registry shared by the process and serve commands.
type automationEnv struct {
	Store     store.Store
	Resolver  *portal.Resolver
	Registry  *portal.Registry
	Alerter   *monitoring.Alerter
	Templates *config.Templates
}

// Close releases resources held by the environment.
func (ae *automationEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initAutomation opens the job store and wires the solver client, challenge
// resolver, and portal automations. Callers should defer Close on the
// returned environment.
func initAutomation(ctx context.Context) (*automationEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	client := solver.NewClient(cfg.Solver.Key, solver.WithBaseURL(cfg.Solver.BaseURL))
	resolver := portal.NewResolver(client, portal.ResolverConfig{
		UserAgent: cfg.Browser.UserAgent,
		ProxyURL:  cfg.Proxy.ResidentialURL,
		Costs:     cost.NewCalculator(cfg.Cost),
		Breaker:   resilience.FromCircuitConfig(cfg.Solver.BreakerFailures, cfg.Solver.BreakerResetSecs),
	})

	registry := portal.DefaultRegistry(resolver, portal.Identity{
		Name:  cfg.Identity.Name,
		Email: cfg.Identity.Email,
		Phone: cfg.Identity.Phone,
	})

	var templates *config.Templates
	if cfg.Contact.TemplatesPath != "" {
		templates, err = config.LoadTemplates(cfg.Contact.TemplatesPath)
		if err != nil {
			zap.L().Warn("message templates not loaded",
				zap.String("path", cfg.Contact.TemplatesPath),
				zap.Error(err))
			templates = nil
		}
	}

	return &automationEnv{
		Store:     st,
		Resolver:  resolver,
		Registry:  registry,
		Alerter:   monitoring.NewAlerter(cfg.Alerting),
		Templates: templates,
	}, nil
}

// newEngine builds a contact engine for one portal run. Portals that demand
// a residential exit get the proxy wired into the browser; each tenant and
// portal pair keeps its own Chrome profile directory so cookies never cross
// accounts.
func (ae *automationEnv) newEngine(auto portal.Automation, tenant string) *engine.Engine {
	profile := auto.Profile()

	opts := browser.Options{
		Headless:    cfg.Browser.Headless,
		UserAgent:   cfg.Browser.UserAgent,
		UserDataDir: cfg.Browser.UserDataDir,
		ExecPath:    cfg.Browser.ExecPath,
		NavTimeout:  time.Duration(cfg.Browser.NavTimeoutSecs) * time.Second,
		NavEvery:    time.Duration(cfg.Browser.NavEverySecs) * time.Second,
	}
	if opts.UserDataDir != "" {
		opts.UserDataDir = filepath.Join(opts.UserDataDir, tenant, string(profile.Portal))
	}
	if profile.NeedsProxy {
		opts.ProxyURL = cfg.Proxy.ResidentialURL
	}

	return engine.New(auto, browser.NewChrome, opts, ae.Store, ae.Resolver, engine.Config{
		Tenant:      tenant,
		Credentials: cfg.Credentials(string(profile.Portal)),
		MaxPerDay:   cfg.Contact.MaxPerDay,
		DwellMin:    time.Duration(cfg.Contact.DwellMinSecs) * time.Second,
		DwellMax:    time.Duration(cfg.Contact.DwellMaxSecs) * time.Second,
		JobDelayMin: time.Duration(cfg.Contact.JobDelayMinSecs) * time.Second,
		JobDelayMax: time.Duration(cfg.Contact.JobDelayMaxSecs) * time.Second,
	})
}
