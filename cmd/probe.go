package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/probe"
	"github.com/JakeFAU/stockbot/internal/server"
	"github.com/JakeFAU/stockbot/internal/stock"
)

type probeOutput struct {
	URL string `json:"url"`
	stock.ProbeResult
}

func newProbeCmd() *cobra.Command {
	var anyHost bool
	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Render one product page and print its classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			url := args[0]
			if !anyHost {
				validator := probe.NewValidator(st.cfg.Checker.SiteHost, st.cfg.Checker.PathMarker)
				if !validator.IsValidURL(url) {
					return fmt.Errorf("%w: %s", stock.ErrInvalidURL, url)
				}
			}
			if normalized, err := probe.NormalizeURL(url); err == nil {
				url = normalized
			}

			prober, closeRenderer := server.BuildProber(st.cfg, st.logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := closeRenderer(ctx); err != nil {
					st.logger.Warn("renderer close failed", zap.Error(err))
				}
			}()

			res := prober.Probe(cmd.Context(), url)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(probeOutput{URL: url, ProbeResult: res}); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if res.Failed() {
				return &stock.ProbeError{URL: url, Msg: res.Error}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&anyHost, "any-host", false, "skip the product URL check")
	return cmd
}
