package consts

import "time"

// Defaults for configuration values and file names.
const (
	AppName           = "doorman"
	DefaultConfigFile = "doorman.yaml"
	DotEnvFile        = ".env"
	EnvPrefix         = "DOORMAN_"

	DefaultDescription = "doorman"
	DefaultProvider    = "ec2"

	DefaultInterval         = 60 * time.Second
	MinInterval             = 10 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeParallelism = 4
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 200 * time.Millisecond
	DefaultMaxDelay         = 5 * time.Second
	DefaultMutationTimeout  = 30 * time.Second
	DefaultCleanupTimeout   = 60 * time.Second
	DefaultSettleInterval   = time.Second

	// MaxDescriptionLength is the EC2 limit for prefix list entry
	// descriptions.
	MaxDescriptionLength = 255
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitStartup = 1
	ExitCleanup = 3
)

// Version is set at build time with -ldflags.
var Version = "dev"
