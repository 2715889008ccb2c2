package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/authguard/ratelimit"
)

func newLimiterCmd(opts *rootOptions, d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limiter",
		Short: "Inspect and manage rate-limit state",
		Long: `Inspect attempt counters and blocks, and block, unblock or reset an
identifier. Identifiers are client addresses or emails as used by login.`,
	}
	cmd.AddCommand(newLimiterStatusCmd(opts, d))
	cmd.AddCommand(newLimiterBlockCmd(opts, d))
	cmd.AddCommand(newLimiterUnblockCmd(opts, d))
	cmd.AddCommand(newLimiterResetCmd(opts, d))
	return cmd
}

func newLimiterStatusCmd(opts *rootOptions, d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status <identifier>",
		Short: "Show attempts and block state for an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, opts, d, func(ctx context.Context, l *ratelimit.Limiter) error {
				attempts, err := l.Attempts(ctx, args[0])
				if err != nil {
					return err
				}
				block, blocked, err := l.BlockInfo(ctx, args[0])
				if err != nil {
					return err
				}

				cmd.Printf("identifier: %s\n", args[0])
				cmd.Printf("attempts: %d\n", attempts)
				if !blocked {
					cmd.Println("blocked: false")
					return nil
				}
				cmd.Println("blocked: true")
				cmd.Printf("blocked until: %s\n", block.ExpiresAt().UTC().Format(time.RFC3339))
				if block.Reason != "" {
					cmd.Printf("reason: %s\n", block.Reason)
				}
				return nil
			})
		},
	}
}

func newLimiterBlockCmd(opts *rootOptions, d *deps) *cobra.Command {
	var (
		duration time.Duration
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "block <identifier>",
		Short: "Block an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, opts, d, func(ctx context.Context, l *ratelimit.Limiter) error {
				if duration == 0 {
					duration = l.Config().BlockDuration
				}
				if err := l.Block(ctx, args[0], duration, reason); err != nil {
					return err
				}
				cmd.Printf("blocked %s for %s\n", args[0], duration)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "block duration (default: configured block duration)")
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the block")

	return cmd
}

func newLimiterUnblockCmd(opts *rootOptions, d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <identifier>",
		Short: "Remove a block and clear the attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, opts, d, func(ctx context.Context, l *ratelimit.Limiter) error {
				if err := l.Unblock(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("unblocked %s\n", args[0])
				return nil
			})
		},
	}
}

func newLimiterResetCmd(opts *rootOptions, d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <identifier>",
		Short: "Clear the attempt counter, leaving any block in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, opts, d, func(ctx context.Context, l *ratelimit.Limiter) error {
				if err := l.Reset(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("reset %s\n", args[0])
				return nil
			})
		},
	}
}

func withLimiter(cmd *cobra.Command, opts *rootOptions, d *deps, fn func(context.Context, *ratelimit.Limiter) error) error {
	cfg, err := readConfig(cmd, opts)
	if err != nil {
		return err
	}
	c, release, err := d.openCache(&cfg)
	if err != nil {
		return err
	}
	defer release()

	rl := cfg.Engine().RateLimit
	l, err := ratelimit.New(c,
		ratelimit.WithConfig(ratelimit.Config{
			DefaultThreshold:    rl.DefaultThreshold,
			AutoBlockMultiplier: rl.AutoBlockMultiplier,
			BlockDuration:       rl.BlockDuration,
		}),
		ratelimit.WithLogger(newLogger(cmd, &cfg)),
	)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), l)
}
