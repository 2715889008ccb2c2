package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/authguard/refresh"
)

func newRefreshCmd(opts *rootOptions, d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Inspect and revoke refresh tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show the live refresh session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRefreshStore(cmd, opts, d, func(ctx context.Context, s *refresh.Store) error {
				infos, err := s.ActiveTokens(ctx, args[0])
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					cmd.Printf("no active refresh token for %s\n", args[0])
					return nil
				}
				for _, info := range infos {
					cmd.Printf("user: %s email: %s created: %s expires: %s\n",
						info.UserID,
						info.Email,
						info.CreatedAt.UTC().Format(time.RFC3339),
						info.ExpiresAt.UTC().Format(time.RFC3339),
					)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke the refresh token of a user",
		Long: `Revoke the refresh token of a user. Access tokens already issued stay
valid until they expire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRefreshStore(cmd, opts, d, func(ctx context.Context, s *refresh.Store) error {
				if err := s.RevokeAll(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("revoked refresh token for %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func withRefreshStore(cmd *cobra.Command, opts *rootOptions, d *deps, fn func(context.Context, *refresh.Store) error) error {
	cfg, err := readConfig(cmd, opts)
	if err != nil {
		return err
	}
	c, release, err := d.openCache(&cfg)
	if err != nil {
		return err
	}
	defer release()

	s := refresh.NewStore(c,
		refresh.WithTTL(cfg.Tokens.RefreshTTL),
		refresh.WithLogger(newLogger(cmd, &cfg)),
	)
	return fn(cmd.Context(), s)
}
