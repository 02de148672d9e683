package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	server   string
	adminKey string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "octoctl",
		Short:         "Operate an octo KOI-net node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("OCTO_SERVER", "http://localhost:8080"), "node base URL")
	root.PersistentFlags().StringVar(&opts.adminKey, "admin-key", os.Getenv("OCTO_ADMIN_KEY"), "admin API key (X-Admin-Key)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newKeygenCmd(),
		newIdentityCmd(opts),
		newPeersCmd(opts),
		newEdgeCmd(opts),
		newPublishCmd(opts),
		newRetractCmd(opts),
		newOffboardCmd(opts),
		newSharesCmd(opts),
		newIntakeCmd(opts),
		newXRefCmd(opts),
	)
	return root
}

func (o *globalOptions) client() *adminClient {
	return newAdminClient(o.server, o.adminKey, o.timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
