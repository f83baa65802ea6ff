package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenlabs/ballast/pkg/config"
	"github.com/fenlabs/ballast/pkg/engine"
	"github.com/fenlabs/ballast/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	exitOK    = 0
	exitSetup = 1
	exitFatal = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitSetup)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ballast",
	Short: "Ballast - High-throughput account balance service",
	Long: `Ballast keeps account balances correct under high write volume.

Mutations are accepted through a transactional outbox, serialized per
partition through a durable log, and applied in fenced batches by the
partition's elected leader. Reads are served from a Redis snapshot cache
with the relational store as the authority.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ballast version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "Path to YAML config file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a ballast node",
	Long: `Run a ballast node: HTTP ingress, outbox sweeper, and one partition
worker per configured partition. Multiple nodes may contend for the same
partitions; leases decide who leads each one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		eng := engine.New(cfg)
		if err := eng.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start: %v", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		exitCode := exitOK
		select {
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		case err := <-eng.Fatal():
			log.Logger.Error().Err(err).Msg("fatal failure")
			exitCode = exitFatal
		}

		eng.Shutdown(context.Background())

		if exitCode != exitOK {
			os.Exit(exitCode)
		}
		return nil
	},
}
