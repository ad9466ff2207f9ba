package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validID = "pl-0123456789abcdef0"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, "ec2", cfg.Provider)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 4, cfg.ProbeParallelism)
	assert.Equal(t, "keep-newest", cfg.DuplicatePolicy)

	cfg.PrefixListID = validID
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, "doorman", cfg.Tag())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeFile(t, "doorman.yaml", `
prefix_list_id: pl-0123abcd
description: 'doorman-{{ .ListID }}'
interval: 90s
provider: memory
consensus:
  policy: expr
  expr: votes >= 2
probes:
  - https://api.ipify.org
  - type: dns
    server: resolver1.opendns.com:53
    name: myip.opendns.com
retry:
  max_attempts: 3
  base_delay: 50ms
  max_delay: 1s
duplicate_policy: replace-all
`)

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	require.NoError(t, cfg.Finalize())

	assert.Equal(t, "doorman-pl-0123abcd", cfg.Tag())
	assert.Equal(t, 90*time.Second, cfg.Interval)
	assert.Equal(t, "memory", cfg.Provider)
	require.Len(t, cfg.Probes, 2)
	assert.Equal(t, "http", cfg.Probes[0].Type)
	assert.Equal(t, "dns", cfg.Probes[1].Type)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.MaxDelay)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.MutationTimeout)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Interval)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOORMAN_PREFIX_LIST_ID":     validID,
		"DOORMAN_INTERVAL":           "15s",
		"DOORMAN_RETRY_MAX_ATTEMPTS": "7",
		"DOORMAN_CONSENSUS_POLICY":   "unanimous",
		"DOORMAN_REGION":             "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Region = "eu-west-1"
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, validID, cfg.PrefixListID)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, "unanimous", cfg.Consensus.Policy)
	assert.Equal(t, "eu-west-1", cfg.Region)

	env["DOORMAN_PROBE_TIMEOUT"] = "soon"
	assert.ErrorContains(t, Default().ApplyEnv(lookup), "DOORMAN_PROBE_TIMEOUT")
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "DOORMAN_TEST_DOTENV=from-file\n")
	t.Setenv("DOORMAN_TEST_DOTENV", "")
	os.Unsetenv("DOORMAN_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DOORMAN_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad list id", func(c *Config) { c.PrefixListID = "sg-12345678" }, "prefix_list_id"},
		{"uppercase list id", func(c *Config) { c.PrefixListID = "pl-0123ABCD" }, "prefix_list_id"},
		{"short interval", func(c *Config) { c.Interval = 5 * time.Second }, "interval"},
		{"empty description", func(c *Config) { c.Description = "  " }, "empty tag"},
		{"long description", func(c *Config) { c.Description = `{{ repeat 300 "x" }}` }, "maximum"},
		{"bad provider", func(c *Config) { c.Provider = "gcp" }, "provider"},
		{"private static ip", func(c *Config) { c.StaticIP = "192.168.1.10" }, "static_ip"},
		{"bad policy", func(c *Config) { c.Consensus.Policy = "quorum" }, "consensus"},
		{"bad expr", func(c *Config) { c.Consensus = ConsensusConfig{Policy: "expr", Expr: "votes >"} }, "consensus"},
		{"bad probe", func(c *Config) { c.Probes = []ProbeConfig{{Type: "http", URL: "ftp://x"}} }, "probes[0]"},
		{"dns without name", func(c *Config) { c.Probes = []ProbeConfig{{Type: "dns", Server: "a:53"}} }, "probes[0]"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"bad duplicate policy", func(c *Config) { c.DuplicatePolicy = "keep-oldest" }, "duplicate policy"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad template", func(c *Config) { c.Description = "{{ .Nope" }, "description template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.PrefixListID = validID
			tt.mutate(cfg)
			err := cfg.Finalize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
