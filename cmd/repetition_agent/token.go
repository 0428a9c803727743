package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/repetition-orchestrator/internal/config"
	"github.com/jonathan/repetition-orchestrator/internal/server"
)

var tokenCommand = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP automation API",
	Long:  "Generates a signed JWT using JWT_SECRET (and JWT_EXPIRATION_HOURS) from the environment. Pass the token as Authorization: Bearer <token>.",
	RunE:  runTokenCmd,
}

var tokenSubject string

func init() {
	tokenCommand.Flags().StringVar(&tokenSubject, "subject", "operator", "Subject claim embedded in the token")

	rootCmd.AddCommand(tokenCommand)
}

func runTokenCmd(_ *cobra.Command, _ []string) error {
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}

	token, err := server.NewJWTService(jwtConfig).GenerateToken(tokenSubject)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
