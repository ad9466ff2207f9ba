package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/melih-ucgun/doorman/internal/accesslist"
	"github.com/melih-ucgun/doorman/internal/adapters/ui"
	"github.com/melih-ucgun/doorman/internal/config"
	"github.com/melih-ucgun/doorman/internal/consts"
	"github.com/melih-ucgun/doorman/internal/core"
	"github.com/melih-ucgun/doorman/internal/engine"
	"github.com/melih-ucgun/doorman/internal/extip"
	"github.com/melih-ucgun/doorman/internal/metrics"
)

// app holds everything a command needs, built from config.
type app struct {
	cfg     *config.Config
	logger  core.Logger
	ui      core.UI
	metrics *metrics.Metrics
}

// flagBindings maps flags onto config fields. Only flags set on the command
// line override file and environment values.
var flagBindings = map[string]func(c *config.Config, v string){
	"prefix-list-id":   func(c *config.Config, v string) { c.PrefixListID = v },
	"description":      func(c *config.Config, v string) { c.Description = v },
	"provider":         func(c *config.Config, v string) { c.Provider = v },
	"region":           func(c *config.Config, v string) { c.Region = v },
	"endpoint":         func(c *config.Config, v string) { c.Endpoint = v },
	"ip":               func(c *config.Config, v string) { c.StaticIP = v },
	"duplicate-policy": func(c *config.Config, v string) { c.DuplicatePolicy = v },
	"log-format":       func(c *config.Config, v string) { c.LogFormat = v },
	"metrics-addr":     func(c *config.Config, v string) { c.MetricsAddr = v },
}

// newMemoryBackend builds the list behind the memory provider.
var newMemoryBackend = accesslist.NewMemoryBackend

// loadConfig layers defaults, the YAML file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	for name, set := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			set(cfg, f.Value.String())
		}
	}
	if f := cmd.Flags().Lookup("interval"); f != nil && f.Changed {
		cfg.Interval, _ = cmd.Flags().GetDuration("interval")
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, _ := core.ParseLogLevel(cfg.LogLevel)
	switch {
	case verboseCount >= 2:
		level = core.LevelTrace
	case verboseCount == 1:
		level = core.LevelDebug
	}

	var out core.UI = ui.NewPtermUI().WithWriter(cmd.OutOrStdout())
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		out = &core.NoOpUI{}
	}

	return &app{
		cfg:     cfg,
		logger:  core.NewLogger(os.Stderr, level, core.LogFormat(cfg.LogFormat)),
		ui:      out,
		metrics: metrics.New(cfg.PrefixListID, consts.Version),
	}, nil
}

func (a *app) probes() ([]extip.Probe, error) {
	if a.cfg.StaticIP != "" {
		addr, err := extip.ParsePublicIPv4(a.cfg.StaticIP)
		if err != nil {
			return nil, err
		}
		return []extip.Probe{extip.StaticProbe{Addr: addr}}, nil
	}

	client := &http.Client{}
	if len(a.cfg.Probes) == 0 {
		var probes []extip.Probe
		for _, url := range extip.DefaultHTTPEndpoints {
			probes = append(probes, extip.NewHTTPProbe(url, client))
		}
		for _, p := range extip.DefaultDNSProbes() {
			probes = append(probes, p)
		}
		return probes, nil
	}

	probes := make([]extip.Probe, 0, len(a.cfg.Probes))
	for _, pc := range a.cfg.Probes {
		switch pc.Type {
		case "http":
			probes = append(probes, extip.NewHTTPProbe(pc.URL, client))
		case "dns":
			qtype, err := extip.ParseQType(pc.QType)
			if err != nil {
				return nil, err
			}
			probes = append(probes, &extip.DNSProbe{Server: pc.Server, Query: pc.Name, QType: qtype})
		}
	}
	return probes, nil
}

func (a *app) resolver() (*extip.Resolver, error) {
	probes, err := a.probes()
	if err != nil {
		return nil, err
	}

	policy, err := extip.NewPolicy(a.cfg.Consensus.Policy, a.cfg.Consensus.Expr)
	if err != nil {
		return nil, err
	}
	if a.cfg.StaticIP != "" {
		policy = extip.First{}
	}

	return extip.NewResolver(probes, policy, extip.Options{
		Timeout:     a.cfg.ProbeTimeout,
		Parallelism: a.cfg.ProbeParallelism,
		Logger:      a.logger,
		Observer:    a.metrics,
	})
}

func (a *app) backend(ctx context.Context) (accesslist.Backend, error) {
	switch a.cfg.Provider {
	case "memory":
		a.logger.Warn("using the in-memory list; nothing leaves this process")
		return newMemoryBackend(a.cfg.PrefixListID, 0), nil
	default:
		return accesslist.NewEC2Backend(ctx, accesslist.EC2Config{
			ListID:         a.cfg.PrefixListID,
			Region:         a.cfg.Region,
			Endpoint:       a.cfg.Endpoint,
			SettleInterval: consts.DefaultSettleInterval,
		}, a.logger)
	}
}

func (a *app) client(ctx context.Context) (*accesslist.Client, error) {
	b, err := a.backend(ctx)
	if err != nil {
		return nil, err
	}
	return accesslist.NewClient(b, accesslist.Options{
		Retry: accesslist.RetryConfig{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
			MaxDelay:    a.cfg.Retry.MaxDelay,
		},
		Logger:   a.logger,
		Observer: a.metrics,
	}), nil
}

// engine builds the engine and checks that the list is reachable.
func (a *app) engine(ctx context.Context) (*engine.Engine, *accesslist.Client, error) {
	res, err := a.resolver()
	if err != nil {
		return nil, nil, err
	}
	client, err := a.client(ctx)
	if err != nil {
		return nil, nil, err
	}

	info, err := client.Describe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot access prefix list %s: %w", a.cfg.PrefixListID, err)
	}
	a.logger.Debug("prefix list found", "list", info.ID, "name", info.Name, "version", info.Version)

	policy, _ := engine.ParseDuplicatePolicy(a.cfg.DuplicatePolicy)
	eng, err := engine.New(res, client, engine.Options{
		Tag:             a.cfg.Tag(),
		Interval:        a.cfg.Interval,
		MutationTimeout: a.cfg.MutationTimeout,
		CleanupTimeout:  a.cfg.CleanupTimeout,
		DuplicatePolicy: policy,
		Logger:          a.logger,
		Observer:        a.metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, client, nil
}
