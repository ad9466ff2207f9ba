package cmd

import (
	"context"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/melih-ucgun/doorman/internal/consts"
)

var rootCmd = &cobra.Command{
	Use:   consts.AppName,
	Short: "Keep a cloud prefix list in sync with your external IP",
	Long: `doorman grants your current external IPv4 address access through an
AWS managed prefix list, follows it when it changes and revokes it on exit.`,
	Version:       consts.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verboseCount int

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return ExecuteContext(context.Background())
}

// ExecuteContext is Execute with a parent context; cancelling it stops a
// running agent like SIGINT does.
func ExecuteContext(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		pterm.Error.Println(err)
	}
	return ExitCode(err)
}

func init() {
	// PTerm output to Stderr (to keep Stdout clean for piping)
	pterm.SetDefaultOutput(os.Stderr)
	pterm.Success.Writer = os.Stderr
	pterm.Info.Writer = os.Stderr
	pterm.Error.Writer = os.Stderr
	pterm.Warning.Writer = os.Stderr
	pterm.DefaultHeader.Writer = os.Stderr

	addConfigFlags(rootCmd.PersistentFlags())
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", consts.DefaultConfigFile, "config file path")
	flags.String("env-file", consts.DotEnvFile, "dotenv file loaded before reading DOORMAN_* variables")
	flags.CountVarP(&verboseCount, "verbose", "v", "Increase verbosity level (-v, -vv)")
	flags.String("log-format", "", "log format: pretty, text or json")
	flags.BoolP("quiet", "q", false, "print nothing but logs")

	flags.StringP("prefix-list-id", "l", "", "managed prefix list ID (pl-...)")
	flags.StringP("description", "d", "", "entry description template; marks entries as ours")
	flags.String("provider", "", "list backend: ec2 or memory")
	flags.String("region", "", "AWS region")
	flags.String("endpoint", "", "custom EC2 endpoint URL")
	flags.String("ip", "", "use this address instead of probing")
	flags.String("duplicate-policy", "", "keep-newest, keep-matching or replace-all")
}
