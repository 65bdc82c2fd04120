// Command allocbench fires concurrent reserve calls at a live allocator database and
// verifies that no identifier was handed out twice.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/amirphl/pallet-allocator/app/bootstrap"
	"github.com/amirphl/pallet-allocator/app/dto"
	businessflow "github.com/amirphl/pallet-allocator/business_flow"
	"github.com/amirphl/pallet-allocator/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "allocbench",
		Short: "Concurrency checks for the pallet identifier allocator",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var callers int
	var count int
	var kind string
	var xlsxPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one concurrent reservation burst and report duplicates",
		Long: `Start N callers behind a shared barrier, each reserving the same number of identifiers,
then check that every returned identifier is distinct. All reserved identifiers are released
afterwards, which leaves a gap in today's pallet sequence.

Database and Redis settings are read from the environment (or .env) like the service.

Example: allocbench run --callers 50 --count 5 --kind both --xlsx report.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := runBench(ctx, &dto.StressTestRequest{
				Callers:        callers,
				CountPerCaller: count,
				Kind:           kind,
			})
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				if err := writeXLSX(report, xlsxPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", xlsxPath)
			}

			if quiet {
				report.Calls = nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}

			if !report.Passed {
				return fmt.Errorf("uniqueness check failed: %d unique of %d expected, %d duplicates",
					report.UniqueReturned, report.Expected, len(report.Duplicates))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&callers, "callers", 10, "Number of concurrent callers")
	cmd.Flags().IntVar(&count, "count", 1, "Identifiers reserved per caller (1-50)")
	cmd.Flags().StringVar(&kind, "kind", businessflow.ReserveKindPallet, "Identifier family: pallet, series or both")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the report to this .xlsx file")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Omit per-call results from the JSON output")

	return cmd
}

func runBench(ctx context.Context, req *dto.StressTestRequest) (*dto.StressReport, error) {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return nil, err
	}
	logCloser := bootstrap.ConfigureLogging(cfg.Logging)
	defer func() { _ = logCloser.Close() }()

	db, err := bootstrap.OpenDatabase(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}

	rc, err := bootstrap.OpenCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		defer func() { _ = rc.Close() }()
	}

	flows := bootstrap.BuildFlows(cfg, db, rc)
	return flows.Harness.Run(ctx, req)
}

func writeXLSX(report *dto.StressReport, path string) error {
	_, data, err := businessflow.ExportStressReportXLSX(report)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
