// Package cmd defines and implements the CLI commands for the stockbot executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/config"
	"github.com/JakeFAU/stockbot/internal/logging"
)

type stateKeyType struct{}

// state is built once per invocation by the root command and shared with
// subcommands through the command context.
type state struct {
	cfg     *config.Config
	logger  *zap.Logger
	restore func()
}

// loadState is a variable so tests can inject configuration.
var loadState = func(cfgFile string) (*state, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return &state{cfg: &cfg, logger: logger, restore: logging.Install(logger)}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "stockbot",
		Short: "Watches Amul product pages and notifies subscribers when stock changes.",
		Long: `stockbot renders Amul shop product pages on a schedule, classifies each one
as in stock or sold out, and notifies subscribed users over Telegram or
Pub/Sub when a product's availability flips.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			st, err := loadState(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), stateKeyType{}, st))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if st, ok := cmd.Context().Value(stateKeyType{}).(*state); ok && st != nil {
				_ = st.logger.Sync()
				if st.restore != nil {
					st.restore()
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunOnceCmd())
	cmd.AddCommand(newProbeCmd())
	return cmd
}

func resolveState(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKeyType{}).(*state)
	if !ok || st == nil {
		return nil, errors.New("application state not initialized")
	}
	return st, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
