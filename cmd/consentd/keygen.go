package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentauth/consentd/internal/token"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera los tres pares ed25519 (delegation, code, proof) y los imprime como env vars",
		RunE: func(cmd *cobra.Command, args []string) error {
			delegation, err := token.NewKeySet("delegation-1")
			if err != nil {
				return err
			}
			code, err := token.NewKeySet("code-1")
			if err != nil {
				return err
			}
			proof, err := token.NewKeySet("proof-1")
			if err != nil {
				return err
			}

			fmt.Println("# seeds privadas — guardar en el secret store, nunca en el repo")
			fmt.Printf("TOKEN_DELEGATION_SEED=%s\n", delegation.Seed())
			fmt.Printf("TOKEN_CODE_SEED=%s\n", code.Seed())
			fmt.Printf("TOKEN_PROOF_SEED=%s\n", proof.Seed())
			fmt.Println()
			fmt.Println("# claves públicas (informativo)")
			fmt.Printf("# delegation.pub=%s\n", base64.StdEncoding.EncodeToString(delegation.Pub))
			fmt.Printf("# code.pub=%s\n", base64.StdEncoding.EncodeToString(code.Pub))
			fmt.Printf("# proof.pub=%s\n", base64.StdEncoding.EncodeToString(proof.Pub))
			return nil
		},
	}
}
