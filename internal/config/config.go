package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/melih-ucgun/doorman/internal/consts"
	"github.com/melih-ucgun/doorman/internal/core"
	"github.com/melih-ucgun/doorman/internal/engine"
	"github.com/melih-ucgun/doorman/internal/extip"
)

var prefixListID = regexp.MustCompile(`^pl-([0-9a-f]{8}|[0-9a-f]{17})$`)

// ProbeConfig is one external address probe. A bare string in YAML is
// shorthand for an HTTP probe with that URL.
type ProbeConfig struct {
	Type   string `yaml:"type"` // http | dns
	URL    string `yaml:"url,omitempty"`
	Server string `yaml:"server,omitempty"`
	Name   string `yaml:"name,omitempty"`
	QType  string `yaml:"qtype,omitempty"`
}

func (p *ProbeConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Type = "http"
		p.URL = value.Value
		return nil
	}

	type plain ProbeConfig
	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = ProbeConfig(raw)
	if p.Type == "" {
		switch {
		case p.URL != "":
			p.Type = "http"
		case p.Server != "":
			p.Type = "dns"
		}
	}
	return nil
}

type ConsensusConfig struct {
	Policy string `yaml:"policy"`
	Expr   string `yaml:"expr,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type Config struct {
	PrefixListID string `yaml:"prefix_list_id"`
	// Description is a text/template with sprig functions. Its rendered
	// value is the ownership tag.
	Description string        `yaml:"description"`
	Interval    time.Duration `yaml:"interval"`

	Provider string `yaml:"provider"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	StaticIP         string          `yaml:"static_ip,omitempty"`
	Consensus        ConsensusConfig `yaml:"consensus"`
	Probes           []ProbeConfig   `yaml:"probes,omitempty"`
	ProbeTimeout     time.Duration   `yaml:"probe_timeout"`
	ProbeParallelism int             `yaml:"probe_parallelism"`

	Retry           RetryConfig   `yaml:"retry"`
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
	CleanupTimeout  time.Duration `yaml:"cleanup_timeout"`
	DuplicatePolicy string        `yaml:"duplicate_policy"`

	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	tag string
}

// Default returns a config with every optional value filled in.
func Default() *Config {
	return &Config{
		Description:      consts.DefaultDescription,
		Interval:         consts.DefaultInterval,
		Provider:         consts.DefaultProvider,
		Consensus:        ConsensusConfig{Policy: extip.PolicyMajority},
		ProbeTimeout:     consts.DefaultProbeTimeout,
		ProbeParallelism: consts.DefaultProbeParallelism,
		Retry: RetryConfig{
			MaxAttempts: consts.DefaultMaxAttempts,
			BaseDelay:   consts.DefaultBaseDelay,
			MaxDelay:    consts.DefaultMaxDelay,
		},
		MutationTimeout: consts.DefaultMutationTimeout,
		CleanupTimeout:  consts.DefaultCleanupTimeout,
		DuplicatePolicy: string(engine.KeepNewest),
		LogLevel:        "info",
		LogFormat:       string(core.FormatPretty),
	}
}

// LoadConfig reads path over the defaults. A missing file is an error only
// when mustExist is set.
func LoadConfig(path string, mustExist bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Tag returns the rendered description. Valid only after Finalize.
func (c *Config) Tag() string { return c.tag }

// Finalize renders the description template and validates every field.
func (c *Config) Finalize() error {
	host, _ := os.Hostname()
	tag, err := core.ExecuteTemplate(c.Description, map[string]any{
		"ListID":   c.PrefixListID,
		"Hostname": host,
	})
	if err != nil {
		return fmt.Errorf("description template: %w", err)
	}
	c.tag = strings.TrimSpace(tag)
	return c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !prefixListID.MatchString(c.PrefixListID) {
		add("prefix_list_id %q must be pl- followed by 8 or 17 hex characters", c.PrefixListID)
	}
	switch n := len(c.tag); {
	case n == 0:
		add("description renders to an empty tag")
	case n > consts.MaxDescriptionLength:
		add("description is %d characters, the maximum is %d", n, consts.MaxDescriptionLength)
	}
	if c.Interval < consts.MinInterval {
		add("interval %s is below the minimum of %s", c.Interval, consts.MinInterval)
	}
	switch c.Provider {
	case "ec2", "memory":
	default:
		add("unknown provider %q (want ec2 or memory)", c.Provider)
	}

	if c.StaticIP != "" {
		if _, err := extip.ParsePublicIPv4(c.StaticIP); err != nil {
			add("static_ip: %v", err)
		}
	}
	if _, err := extip.NewPolicy(c.Consensus.Policy, c.Consensus.Expr); err != nil {
		add("consensus: %v", err)
	}
	for i, p := range c.Probes {
		if err := p.validate(); err != nil {
			add("probes[%d]: %v", i, err)
		}
	}
	if c.ProbeTimeout <= 0 {
		add("probe_timeout must be positive")
	}
	if c.ProbeParallelism < 1 {
		add("probe_parallelism must be at least 1")
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		add("retry delays must be positive with max_delay >= base_delay")
	}
	if c.MutationTimeout <= 0 || c.CleanupTimeout <= 0 {
		add("mutation_timeout and cleanup_timeout must be positive")
	}
	if _, err := engine.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		add("%v", err)
	}
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		add("%v", err)
	}
	switch core.LogFormat(c.LogFormat) {
	case core.FormatPretty, core.FormatText, core.FormatJSON:
	default:
		add("unknown log_format %q", c.LogFormat)
	}

	return errors.Join(errs...)
}

func (p ProbeConfig) validate() error {
	switch p.Type {
	case "http":
		if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			return fmt.Errorf("http probe needs an http(s) url, got %q", p.URL)
		}
	case "dns":
		if p.Server == "" || p.Name == "" {
			return errors.New("dns probe needs server and name")
		}
		if _, err := extip.ParseQType(p.QType); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown probe type %q", p.Type)
	}
	return nil
}
