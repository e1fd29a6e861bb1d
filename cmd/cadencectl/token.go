package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/auth"
	"github.com/spf13/cobra"
)

func (c *cli) newTokenCmd() *cobra.Command {
	var (
		ownerFlag string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an owner",
		Long: `token signs a bearer token with the server's JWT secret. It is meant for
local testing and service accounts; identity issuance lives elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := uuid.Parse(ownerFlag)
			if err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateToken(cmd.Context(), owner, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenLifetime, "token lifetime")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
