package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"octo/internal/domain"

	"github.com/spf13/cobra"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var (
		eventType    string
		contents     string
		contentsFile string
		targets      []string
		idemKey      string
	)
	cmd := &cobra.Command{
		Use:   "publish <rid>",
		Short: "Queue a NEW, UPDATE or FORGET event for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContents(contents, contentsFile)
			if err != nil {
				return err
			}
			req := map[string]any{
				"rid":        args[0],
				"event_type": strings.ToUpper(eventType),
				"targets":    targets,
			}
			if body != nil {
				req["contents"] = body
			}
			if idemKey != "" {
				req["idempotency_key"] = idemKey
			}
			var out map[string]any
			if err := opts.client().post(cmd.Context(), "/v1/publish", req, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", string(domain.EventTypeNew), "NEW, UPDATE or FORGET")
	cmd.Flags().StringVar(&contents, "contents", "", "inline JSON contents")
	cmd.Flags().StringVar(&contentsFile, "contents-file", "", "file holding JSON contents")
	cmd.Flags().StringSliceVar(&targets, "to", nil, "target node RID or alias (repeatable); omit to broadcast")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "collapse repeated publishes with the same key")
	return cmd
}

func readContents(inline, path string) (json.RawMessage, error) {
	if inline != "" && path != "" {
		return nil, fmt.Errorf("use either --contents or --contents-file")
	}
	raw := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("contents are not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newRetractCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retract <document-rid>",
		Short: "Send FORGET to every peer the document was shared with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().post(cmd.Context(), "/v1/documents/retract", map[string]string{"document_rid": args[0]}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newOffboardCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "offboard <node>",
		Short: "Retract everything shared with a peer and deactivate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().post(cmd.Context(), nodePath("/v1/peers/", args[0], "/offboard"), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSharesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shares <node>",
		Short: "List documents currently shared with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().get(cmd.Context(), nodePath("/v1/shares/", args[0], ""), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newIntakeCmd(opts *globalOptions) *cobra.Command {
	var (
		documentRID  string
		sender       string
		intakeStatus string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "List and review documents received from peers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if documentRID != "" {
				q.Set("document_rid", documentRID)
			}
			if sender != "" {
				q.Set("sender_node", sender)
			}
			if intakeStatus != "" {
				q.Set("intake_status", intakeStatus)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var out map[string]any
			if err := opts.client().get(cmd.Context(), "/v1/intake", q, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&documentRID, "document", "", "filter by document RID")
	cmd.Flags().StringVar(&sender, "sender", "", "filter by sender node RID")
	cmd.Flags().StringVar(&intakeStatus, "status", "", "filter by intake status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")

	var (
		reviewer string
		notes    string
	)
	review := &cobra.Command{
		Use:   "review <document-rid> <reviewed|accepted|rejected>",
		Short: "Record a review decision on the latest copy of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"document_rid": args[0],
				"decision":     strings.ToLower(args[1]),
				"reviewer":     reviewer,
				"notes":        notes,
			}
			var doc domain.SharedDocument
			if err := opts.client().post(cmd.Context(), "/v1/intake/review", req, &doc); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	review.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "reviewer identity")
	review.Flags().StringVar(&notes, "notes", "", "review notes")
	cmd.AddCommand(review)
	return cmd
}

func newXRefCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xref",
		Short: "Link and look up cross-references",
	}

	var (
		remoteNode   string
		relationship string
		confidence   float64
	)
	link := &cobra.Command{
		Use:   "link <local-uri> <remote-rid>",
		Short: "Associate a local entity with a remote resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := domain.CrossReference{
				LocalURI:     args[0],
				RemoteRID:    args[1],
				RemoteNode:   remoteNode,
				Relationship: relationship,
				Confidence:   confidence,
			}
			var out domain.CrossReference
			if err := opts.client().post(cmd.Context(), "/v1/xrefs", ref, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	link.Flags().StringVar(&remoteNode, "remote-node", "", "node that owns the remote resource")
	link.Flags().StringVar(&relationship, "relationship", "same_as", "relationship label")
	link.Flags().Float64Var(&confidence, "confidence", 1.0, "match confidence between 0 and 1")

	var local bool
	list := &cobra.Command{
		Use:   "list <rid-or-uri>",
		Short: "List cross-references for a remote RID (or a local URI with --local)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if local {
				q.Set("local_uri", args[0])
			} else {
				q.Set("remote_rid", args[0])
			}
			var out map[string]any
			if err := opts.client().get(cmd.Context(), "/v1/xrefs", q, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	list.Flags().BoolVar(&local, "local", false, "treat the argument as a local URI")

	cmd.AddCommand(link, list)
	return cmd
}
