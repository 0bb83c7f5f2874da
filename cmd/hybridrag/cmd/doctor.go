package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/output"
	"github.com/Aman-CERP/hybridrag/internal/preflight"
)

// doctorTimeout bounds the embedder check.
const doctorTimeout = 10 * time.Second

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		indexDir   string
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the index and embedder are ready",
		Long: `Run preflight checks: disk space and write access where the index is
published, the descriptor limit, the published index itself, a running
build, and whether the configured embedder answers with the dimension
the index was built with.

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			dir, err := g.indexDir(indexDir)
			if err != nil {
				return err
			}

			opts := []preflight.Option{
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithNoColor(g.colorDisabled()),
			}
			embedder, err := embed.NewEmbedder(cfg.EmbedConfig())
			if err == nil {
				defer func() { _ = embedder.Close() }()
				opts = append(opts, preflight.WithEmbedder(embedder))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			checker := preflight.New(opts...)
			results := checker.RunAll(ctx, dir)
			if err != nil {
				results = append(results, preflight.CheckResult{
					Name:     "embedder",
					Status:   preflight.StatusFail,
					Message:  err.Error(),
					Required: true,
				})
			}

			if jsonOutput {
				if err := output.New(cmd.OutOrStdout(), true).JSON(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return rerrors.New(rerrors.ErrCodeConfigInvalid, "preflight checks failed", nil).
					WithSuggestion("Fix the failed checks listed above")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&indexDir, "index", "", "Index directory (default from config index.dir)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")

	return cmd
}
