package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/metricsbridge/internal/agent"
	"github.com/ethpandaops/metricsbridge/internal/version"
)

var (
	cfgFile  string
	logLevel string
	pullAddr string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metricsbridge",
		Short: "Prometheus metrics exporter with scrape and push paths",
		Long: `metricsbridge serves a process's Prometheus registry over HTTP for
scraping and periodically pushes the same snapshot as JSON to a
collector endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().StringVar(
		&pullAddr, "pull-addr", "",
		"override the pull listen address and enable the pull exporter",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if pullAddr != "" {
		cfg.Pull.Enabled = true
		cfg.Pull.Addr = pullAddr
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithFields(startupFields(cfg)).Info("Starting metricsbridge")

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down metricsbridge")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

// startupFields describes which exporters run and where they point.
func startupFields(cfg *agent.Config) logrus.Fields {
	fields := logrus.Fields{
		"version": version.Full(),
		"config":  cfgFile,
	}

	if cfg.Pull.Enabled {
		fields["pull_addr"] = cfg.Pull.Addr
		fields["pull_workers"] = cfg.Pull.Workers
	}

	if cfg.Push.Enabled {
		fields["push_url"] = cfg.Push.URL
		fields["push_interval"] = cfg.Push.Interval.String()
		fields["push_compression"] = cfg.Push.Compression
	}

	return fields
}
