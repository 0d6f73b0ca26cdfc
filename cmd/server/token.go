package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-signaling/internal/auth"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
)

func tokenCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(nil, configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			if name == "" {
				name = args[0]
			}

			svc := auth.NewService(&auth.JWTConfig{
				Secret:   []byte(cfg.Auth.JWTSecret),
				Issuer:   cfg.Auth.JWTIssuer,
				Audience: cfg.Auth.JWTAudience,
				TTL:      cfg.Auth.TokenTTL,
			}, false)
			token, err := svc.IssueToken(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to user id)")
	return cmd
}
