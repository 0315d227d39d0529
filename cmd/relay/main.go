package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/relay"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "A high-security Nostr relay with an MLS Gateway extension",
	Long: `relay serves the Nostr WebSocket protocol and a companion REST
mailbox surface for MLS KeyPackages and Welcomes, backed by bbolt
storage and a single-process extension pipeline.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCheckCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay process",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		r, err := relay.New(cfg)
		if err != nil {
			return fmt.Errorf("construct relay: %w", err)
		}

		metrics.SetVersion(Version)

		errCh := make(chan error, 1)
		if err := r.Start(errCh); err != nil {
			return fmt.Errorf("start relay: %w", err)
		}

		fmt.Printf("relay listening on %s:%d\n", cfg.Network.Host, cfg.Network.Port)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown relay: %w", err)
		}

		fmt.Println("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML configuration file (defaults applied when absent)")
}

var migrateCheckCmd = &cobra.Command{
	Use:   "migrate-check",
	Short: "Open the configured stores and report whether they open, without serving traffic",
	Long: `migrate-check opens the event store and auxiliary store at the
configured data path, creating a missing database file and any missing
buckets as a normal start would, and exits nonzero if either store fails
to open. It does not detect schema migrations and never writes an event
or auxiliary record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		report, err := relay.CheckStores(cfg)
		if err != nil {
			return fmt.Errorf("migrate-check failed: %w", err)
		}

		fmt.Printf("event store:     %s (%s)\n", report.EventStorePath, report.EventStoreStatus)
		fmt.Printf("auxiliary store: %s (%s)\n", report.AuxStorePath, report.AuxStoreStatus)
		if !report.OK() {
			return fmt.Errorf("one or more stores are not in a servable state")
		}
		return nil
	},
}

func init() {
	migrateCheckCmd.Flags().String("config", "", "Path to YAML configuration file (defaults applied when absent)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relay version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

const shutdownTimeout = 15 * time.Second
