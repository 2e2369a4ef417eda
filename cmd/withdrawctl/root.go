package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultEndpoint = "http://127.0.0.1:7090"
	endpointEnv     = "WITHDRAWCTL_ENDPOINT"
	tokenEnv        = "WITHDRAWCTL_TOKEN"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

func (o *rootOptions) client() *adminClient {
	return newAdminClient(o.Endpoint, o.Token, o.Timeout)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "withdrawctl",
		Short:         "Operate the withdrawal daemon",
		Long:          "Inspect and control withdrawald through its admin API, and manage the settlement signer keystore.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", endpoint, "admin API base URL (env "+endpointEnv+")")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv(tokenEnv), "bearer token or JWT (env "+tokenEnv+")")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "request timeout")

	cmd.AddCommand(
		newStatusCommand(opts),
		newListCommand(opts),
		newGetCommand(opts),
		newSubmitCommand(opts),
		newPauseCommand(opts),
		newResumeCommand(opts),
		newSupplyCommand(opts),
		newReportCommand(opts),
		newWatchCommand(opts),
		newKeygenCommand(),
	)
	return cmd
}
