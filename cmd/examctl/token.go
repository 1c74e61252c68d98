package main

import (
	"fmt"
	"time"

	"examforge/internal/auth"
	"examforge/internal/config"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	RunE:  runToken,
}

var (
	tokenSubject string
	tokenRole    string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, usually the teacher id (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "teacher", "Role claim")

	if err := tokenCmd.MarkFlagRequired("subject"); err != nil {
		panic(fmt.Sprintf("failed to mark subject flag as required: %v", err))
	}

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	svc := auth.NewService(cfg.JWTSecret, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	if !svc.Enabled() {
		return fmt.Errorf("EXAMFORGE_JWT_SECRET is not set, the api runs without authentication")
	}
	tok, err := svc.Issue(tokenSubject, tokenRole)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
