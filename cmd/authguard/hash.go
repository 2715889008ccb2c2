package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefront/authguard/config"
	"github.com/storefront/authguard/password"
)

var errMismatch = errors.New("password does not match hash")

func newHashCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <password>",
		Short: "Hash a password with the configured algorithm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hasherFor(cmd, opts)
			if err != nil {
				return err
			}
			encoded, err := h.Hash(args[0])
			if err != nil {
				return err
			}
			cmd.Println(encoded)
			return nil
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <password> <hash>",
		Short: "Check a password against a stored hash",
		Long: `Check a password against a stored hash and report whether the hash
is below the configured cost and would be upgraded on the next login.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hasherFor(cmd, opts)
			if err != nil {
				return err
			}
			if !h.Verify(args[0], args[1]) {
				return errMismatch
			}
			cmd.Println("match")
			cmd.Printf("strength: %d (target %d)\n", h.Strength(args[1]), h.TargetStrength())
			cmd.Printf("needs rehash: %t\n", h.NeedsRehash(args[1]))
			return nil
		},
	}
}

func hasherFor(cmd *cobra.Command, opts *rootOptions) (*password.Hasher, error) {
	cfg, err := readConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	pw := cfg.Engine().Password
	h, err := password.New(password.Config{
		Algorithm: pw.Algorithm,
		Cost:      pw.WorkFactor,
		Argon2:    pw.Argon2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	return h, nil
}
