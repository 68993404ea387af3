package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/console"
	"github.com/boristopalov/fishery/pkg/environment"
)

var (
	configFile string
	fishermen  int
	attempts   int
	duration   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fishery",
		Short: "Fishery runs the owner, the water and fish caretakers and a crew of fishermen as cooperating agents.",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fishery until every fisherman is done or the duration elapses",
		RunE:  runFishery,
	}
	runCmd.Flags().IntVar(&fishermen, "fishermen", -1, "number of fishermen (overrides config)")
	runCmd.Flags().IntVar(&attempts, "attempts", -1, "take-fish attempts per fisherman (overrides config)")
	runCmd.Flags().DurationVar(&duration, "duration", time.Minute, "stop after this long even if sessions are still running")

	dumpCmd := &cobra.Command{
		Use:   "dumpconfig [file]",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  dumpConfig,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, dumpCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file and the environment.
func loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runFishery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if fishermen >= 0 {
		cfg.Fisherman.Count = fishermen
	}
	if attempts >= 0 {
		cfg.Fisherman.Attempts = attempts
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, err := environment.NewFishery(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build fishery: %w", err)
	}
	defer f.Close()

	console.Banner(cmd.OutOrStdout(), cfg)
	if err := f.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fishery: %w", err)
	}

	waitCtx, stop := context.WithTimeout(ctx, duration)
	defer stop()
	switch err := f.WaitSessions(waitCtx); {
	case err == nil:
		slog.Info("all fishing sessions finished")
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("run duration elapsed before all sessions finished", "duration", duration)
	default:
		slog.Info("interrupted, shutting down")
	}

	if err := f.Stop(); err != nil {
		slog.Warn("errors while stopping agents", "error", err)
	}
	status, err := f.Status(context.Background())
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}
	console.Status(cmd.OutOrStdout(), status)
	return nil
}

func dumpConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	dump := cmd.OutOrStdout()
	if len(args) > 0 {
		file, err := os.OpenFile(args[0], os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer file.Close()
		dump = file
	}
	_, err = dump.Write(out)
	return err
}
