package main

import (
	"strings"

	"octo/internal/domain"

	"github.com/spf13/cobra"
)

func newIdentityCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "identity [base-url]",
		Short: "Fetch a node's public profile (defaults to --server)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := opts.server
			if len(args) == 1 {
				target = args[0]
			}
			var node domain.Node
			c := newAdminClient(target, "", opts.timeout)
			if err := c.get(cmd.Context(), "/koi-net/identity", nil, &node); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), node)
		},
	}
}

func newPeersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List, discover and alias peer nodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := opts.client().get(cmd.Context(), "/v1/peers", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "discover <base-url>",
		Short: "Handshake with a node and register it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var node domain.Node
			if err := opts.client().post(cmd.Context(), "/v1/peers/discover", map[string]string{"base_url": args[0]}, &node); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), node)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "alias <node> <alias>",
		Short: "Give a registered node a short alias",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().post(cmd.Context(), nodePath("/v1/peers/", args[0], "/alias"), map[string]string{"alias": args[1]}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}

func newEdgeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Propose, approve and filter edges",
	}

	var (
		source   string
		target   string
		edgeType string
		ridTypes []string
	)
	propose := &cobra.Command{
		Use:   "propose",
		Short: "Propose an edge from a provider to a subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := map[string]any{
				"source_node": source,
				"target_node": target,
				"edge_type":   strings.ToUpper(edgeType),
				"rid_types":   ridTypes,
			}
			var edge domain.Edge
			if err := opts.client().post(cmd.Context(), "/v1/edges", req, &edge); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), edge)
		},
	}
	propose.Flags().StringVar(&source, "source", "", "providing node RID")
	propose.Flags().StringVar(&target, "target", "", "receiving node RID")
	propose.Flags().StringVar(&edgeType, "type", string(domain.EdgeTypePoll), "POLL or WEBHOOK")
	propose.Flags().StringSliceVar(&ridTypes, "rid-type", nil, "RID type carried by the edge (repeatable)")
	_ = propose.MarkFlagRequired("source")
	_ = propose.MarkFlagRequired("target")

	approve := &cobra.Command{
		Use:   "approve <edge-rid>",
		Short: "Approve a proposed edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edge domain.Edge
			if err := opts.client().post(cmd.Context(), nodePath("/v1/edges/", args[0], "/approve"), nil, &edge); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), edge)
		},
	}

	var filterTypes []string
	filter := &cobra.Command{
		Use:   "filter <edge-rid>",
		Short: "Replace the RID types an edge carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edge domain.Edge
			if err := opts.client().post(cmd.Context(), nodePath("/v1/edges/", args[0], "/filter"), map[string]any{"rid_types": filterTypes}, &edge); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), edge)
		},
	}
	filter.Flags().StringSliceVar(&filterTypes, "rid-type", nil, "RID type carried by the edge (repeatable)")

	cmd.AddCommand(propose, approve, filter)
	return cmd
}
