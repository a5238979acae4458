package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/stockbot/internal/server"
)

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Check every tracked product once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), st.cfg, st.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			sum := app.RunOnce(cmd.Context())

			closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Close(closeCtx); err != nil {
				return fmt.Errorf("close application: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			if sum.Err != nil {
				return fmt.Errorf("check cycle failed: %w", sum.Err)
			}
			return nil
		},
	}
}
