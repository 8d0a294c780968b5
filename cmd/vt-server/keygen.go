package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vtmuxd/vtmuxd/internal/auth"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a JWT signing key (EC P-256)",
		Long:  "Generates an ECDSA P-256 private key for ES256 bearer tokens and prints it as base64-DER.\nUse with: VTMUXD_JWT_KEY=<output> vt-server serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, encoded, err := auth.GenerateECKey()
			if err != nil {
				return err
			}
			pubKey, err := auth.MarshalECPublicKey(&key.PublicKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			fmt.Fprintf(cmd.ErrOrStderr(), "\npublic key: %s\n", pubKey)
			return nil
		},
	}
}
