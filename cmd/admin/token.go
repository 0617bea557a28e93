package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bract/internal/shared/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Sign an HS256 bearer token with JWT_SECRET for local testing of the API.

Deployments that verify against JWT_JWKS_URL accept only tokens from the
identity provider, so tokens minted here are rejected there.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("user", "", "Subject (user id) of the token")
	tokenCmd.Flags().String("email", "", "Email claim, recorded as the reminder contact")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	email, _ := cmd.Flags().GetString("email")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	token, err := auth.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience).Generate(userID, email, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
