package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/melih-ucgun/doorman/internal/consts"
)

// LoadDotEnv loads variables from the given files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

type envBinding struct {
	key string
	set func(c *Config, v string) error
}

func str(f func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *f(c) = v; return nil }
}

func dur(f func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*f(c) = d
		return nil
	}
}

func num(f func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"PREFIX_LIST_ID", str(func(c *Config) *string { return &c.PrefixListID })},
	{"DESCRIPTION", str(func(c *Config) *string { return &c.Description })},
	{"INTERVAL", dur(func(c *Config) *time.Duration { return &c.Interval })},
	{"PROVIDER", str(func(c *Config) *string { return &c.Provider })},
	{"REGION", str(func(c *Config) *string { return &c.Region })},
	{"ENDPOINT", str(func(c *Config) *string { return &c.Endpoint })},
	{"STATIC_IP", str(func(c *Config) *string { return &c.StaticIP })},
	{"CONSENSUS_POLICY", str(func(c *Config) *string { return &c.Consensus.Policy })},
	{"CONSENSUS_EXPR", str(func(c *Config) *string { return &c.Consensus.Expr })},
	{"PROBE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.ProbeTimeout })},
	{"PROBE_PARALLELISM", num(func(c *Config) *int { return &c.ProbeParallelism })},
	{"RETRY_MAX_ATTEMPTS", num(func(c *Config) *int { return &c.Retry.MaxAttempts })},
	{"RETRY_BASE_DELAY", dur(func(c *Config) *time.Duration { return &c.Retry.BaseDelay })},
	{"RETRY_MAX_DELAY", dur(func(c *Config) *time.Duration { return &c.Retry.MaxDelay })},
	{"MUTATION_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.MutationTimeout })},
	{"CLEANUP_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.CleanupTimeout })},
	{"DUPLICATE_POLICY", str(func(c *Config) *string { return &c.DuplicatePolicy })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.MetricsAddr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
}

// ApplyEnv overrides fields from DOORMAN_* variables found by lookup,
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		key := consts.EnvPrefix + b.key
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
