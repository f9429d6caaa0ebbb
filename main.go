package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"fluxcov/adapters/api"
	"fluxcov/adapters/postgres"
	"fluxcov/adapters/products"
	"fluxcov/adapters/spectra"
	"fluxcov/app"
	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/analysis"
	"fluxcov/internal/config"
	apperrors "fluxcov/internal/errors"
	"fluxcov/ports"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := &cobra.Command{
		Use:   "fluxcov",
		Short: "Neutrino flux uncertainty propagation",
		Long: `fluxcov turns re-weighted flux spectra into covariance matrices,
correlation matrices and fractional uncertainties, compresses the hadron
production systematics with PCA and assembles the total flux covariance.`,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newBinningCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var configPath string
	var workers int
	var noLedger bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full uncertainty propagation pipeline",
		Long: `Read the preprocessed flux spectra, compute hadron-production and
beam-focusing covariances, compress the total with PCA and export the
products, the run report and the results-ledger manifest.

The results ledger is optional: it is written only when RESULTS_DSN points
at a PostgreSQL database and --no-ledger is not set.

Example: fluxcov run --config project.toml --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(cmd.Context(), configPath, workers, noLedger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "project.toml", "TOML project file")
	cmd.Flags().IntVar(&workers, "workers", 0, "Spectra reader fan-out (0 = FLUXCOV_WORKERS or one per CPU)")
	cmd.Flags().BoolVar(&noLedger, "no-ledger", false, "Skip the results ledger even when RESULTS_DSN is set")

	return cmd
}

func runAnalysis(ctx context.Context, configPath string, workers int, noLedger bool) error {
	logger := internal.NewDefaultLogger()

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return apperrors.Wrapf(err, "failed to read config file %s", configPath)
	}
	cfg, err := config.ParseAnalysisConfig(raw)
	if err != nil {
		return err
	}

	env, err := config.Load()
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = env.Runtime.Workers
	}

	var results ports.ResultsRepository
	if env.Database.DSN != "" && !noLedger {
		db, err := sqlx.Connect("postgres", env.Database.DSN)
		if err != nil {
			return apperrors.Wrap(err, "failed to connect to the results ledger")
		}
		defer db.Close()
		results = postgres.NewResultsRepository(db)
	}

	reader := spectra.NewReader(cfg.PPFX.KeepHistogram, logger)
	writer := products.NewWriter(logger)
	service := app.NewAnalysisService(reader, writer, results, logger)

	result, err := service.Run(ctx, app.AnalysisRequest{
		Config:       cfg,
		ConfigSource: raw,
		Workers:      workers,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s finished in %d ms\n", result.RunID, result.RuntimeMs)
	fmt.Printf("  bins:       %d\n", result.AxisLen)
	fmt.Printf("  universes:  %d\n", result.Universes)
	fmt.Printf("  components: %d of %d retained\n", result.Retained, result.TotalRank)
	if len(result.BeamCategories) > 0 {
		fmt.Printf("  beam:       %s\n", strings.Join(result.BeamCategories, ", "))
	}
	fmt.Printf("  workbook:   %s\n", result.WorkbookPath)
	fmt.Printf("  csv files:  %d\n", result.CSVCount)
	fmt.Printf("  report:     %s\n", result.ReportPath)
	if result.Warnings > 0 {
		fmt.Printf("  warnings:   %d\n", result.Warnings)
	}

	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a TOML project file without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAnalysisConfig(args[0])
			if err != nil {
				return err
			}

			horns := make([]string, len(cfg.Horns))
			for i, horn := range cfg.Horns {
				horns[i] = string(horn)
			}

			fmt.Println("Configuration OK")
			fmt.Printf("  sources:       %s\n", cfg.SourcesPath)
			fmt.Printf("  results:       %s\n", cfg.ResultsPath)
			fmt.Printf("  horns:         %s\n", strings.Join(horns, ", "))
			fmt.Printf("  nominal run:   %d\n", cfg.NominalRun)
			fmt.Printf("  pca threshold: %g\n", cfg.PCAThreshold)
			if cfg.Beam.Enabled {
				fmt.Printf("  beam:          %s\n", strings.Join(cfg.Beam.Categories(), ", "))
			} else {
				fmt.Println("  beam:          disabled")
			}
			return nil
		},
	}

	return cmd
}

func newBinningCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "binning",
		Short: "Print the matrix binning descriptor",
		Long: `Print the flavor-energy layout of the covariance matrices in the text
format downstream fitting frameworks consume: one "isRHC pdg elow ehigh"
line per matrix bin, in matrix order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAnalysisConfig(configPath)
			if err != nil {
				return err
			}
			axis, err := flux.NewAxisFromBinning(cfg.Horns, cfg.Binning)
			if err != nil {
				return err
			}
			descriptor, err := analysis.BinningDescriptor(axis, cfg.Binning)
			if err != nil {
				return err
			}
			fmt.Println(descriptor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "project.toml", "TOML project file")

	return cmd
}

func newServeCmd() *cobra.Command {
	var productsDir string
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results browser",
		Long: `Serve recent run manifests, summary tables, exported product files and
the latest HTML report over HTTP. Run manifests come from the ledger at
RESULTS_DSN; without it only the product files are served.

Example: RESULTS_DSN=postgres://localhost/fluxcov fluxcov serve --products results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), productsDir, port)
		},
	}

	cmd.Flags().StringVar(&productsDir, "products", "results", "Directory holding exported run products")
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from PORT or 8080)")

	return cmd
}

func runServe(ctx context.Context, productsDir, port string) error {
	logger := internal.NewDefaultLogger()

	env, err := config.Load()
	if err != nil {
		return err
	}
	if port == "" {
		port = env.Server.Port
	}

	var results ports.ResultsRepository
	if env.Database.DSN != "" {
		db, err := sqlx.Connect("postgres", env.Database.DSN)
		if err != nil {
			return apperrors.Wrap(err, "failed to connect to the results ledger")
		}
		defer db.Close()
		ledger := postgres.NewResultsRepository(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return apperrors.Wrap(err, "failed to ensure ledger schema")
		}
		results = ledger
	} else {
		logger.Info("RESULTS_DSN not set; serving product files only")
	}

	server := api.NewServer(api.Config{ProductsDir: productsDir, Port: port}, results, logger)
	logger.Info("Results browser listening on :%s", port)
	return server.Start()
}
