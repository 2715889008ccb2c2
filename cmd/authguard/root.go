package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/config"
	"github.com/storefront/authguard/internal/logging"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configFile string
	envFile    string
}

// deps are the injectable collaborators of the commands.
type deps struct {
	// openCache connects to the token cache. The returned func releases it.
	openCache func(cfg *config.Config) (cache.Cache, func(), error)
}

func defaultDeps() *deps {
	return &deps{
		openCache: func(cfg *config.Config) (cache.Cache, func(), error) {
			client := cfg.RedisClient()
			return cache.NewRedis(client), func() { _ = client.Close() }, nil
		},
	}
}

// NewRootCmd creates the root command for the authguard CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultDeps())
}

func newRootCmd(d *deps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "authguard",
		Short: "Operate the authguard token cache and credentials",
		Long: `authguard hashes and verifies passwords, issues and inspects access
tokens, and inspects or clears rate-limit and refresh-token state in the
shared cache.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default: .env when present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newHashCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newLimiterCmd(opts, d))
	cmd.AddCommand(newRefreshCmd(opts, d))

	return cmd
}

// readConfig loads the dotenv file and the configuration without validating
// it; each command checks the settings it uses.
func readConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return config.Config{}, err
	}
	return config.Read(opts.configFile, cmd.Flags())
}

func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.Setup("authguard", version, cfg.LogOptions(), cmd.ErrOrStderr())
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long:  `Load the config file, flags and environment and report the first invalid setting.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			if _, err := config.Load(opts.configFile, cmd.Flags()); err != nil {
				return err
			}
			cmd.Println("configuration ok")
			return nil
		},
	})
	return cmd
}
