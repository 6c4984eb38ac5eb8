// Package cmd implements the panoharvest command line.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/app"
	"github.com/JakeFAU/panorama-harvester/internal/config"
	"github.com/JakeFAU/panorama-harvester/internal/logging"
	"github.com/JakeFAU/panorama-harvester/internal/pipeline"
	"github.com/JakeFAU/panorama-harvester/internal/report"
)

// Harvester runs one harvest for a target year. *app.App satisfies it.
type Harvester interface {
	Harvest(ctx context.Context, year int) (pipeline.Summary, error)
	Close()
}

// newHarvester is the application factory. Tests replace it.
var newHarvester = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "panoharvest [year]",
		Short: "Harvest street-level panoramas along a road network for one year.",
		Long: `panoharvest walks every coordinate of a road network, finds the panorama
captured in the target year, and saves deduplicated views with a CSV log.
Runs are resumable: interrupt at any time and run the same year again.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, args, opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	return cmd
}

func runHarvest(cmd *cobra.Command, args []string, opts *rootOptions) error {
	// The year is validated before anything touches disk.
	year, err := readYear(args, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := newHarvester(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer h.Close()

	summary, err := h.Harvest(ctx, year)
	if _, printErr := fmt.Fprintln(cmd.OutOrStdout(), report.Table(summary)); printErr != nil {
		logger.Warn("print summary", zap.Error(printErr))
	}
	if err != nil {
		logger.Error("harvest failed", zap.Int("year", year), zap.Error(err))
		return err
	}
	return nil
}

// readYear takes the year from args, or prompts for it on in.
func readYear(args []string, in io.Reader, out io.Writer) (int, error) {
	if len(args) == 1 {
		return config.ParseYear(args[0])
	}
	if _, err := fmt.Fprint(out, "Enter the target year (e.g. 2023): "); err != nil {
		return 0, err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read year: %w", err)
	}
	return config.ParseYear(strings.TrimSpace(line))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
