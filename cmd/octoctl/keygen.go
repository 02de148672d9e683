package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	"octo/internal/domain"

	"github.com/spf13/cobra"
)

type keygenOutput struct {
	NodeRID         string `json:"node_rid"`
	SeedHex         string `json:"signing_private_key_seed_hex"`
	PublicKeyBase64 string `json:"public_key_base64"`
	KeyHash         string `json:"key_hash"`
}

func newKeygenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 node key and the node RID bound to it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := generateKey(rand.Reader, name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "node name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func generateKey(random io.Reader, name string) (keygenOutput, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return keygenOutput{}, err
	}
	return keygenOutput{
		NodeRID:         domain.NodeRID(name, pub),
		SeedHex:         hex.EncodeToString(priv.Seed()),
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pub),
		KeyHash:         domain.KeyHash(pub),
	}, nil
}
