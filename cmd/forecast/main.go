package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sean-rowe/impact-forecast/internal/app"
	"github.com/sean-rowe/impact-forecast/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Impact-based weather forecast pipeline",
	Long: `Runs the full forecast pipeline: fetches NWP data for every configured
location and area, generates impact-based narratives through the configured
LLM, and renders the static site.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Execute one pipeline run",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		info := version.Get()

		fmt.Printf("forecast %s (%s, %s) %s\n",
			info.Version, info.GitCommit, info.GitBranch, info.GoVersion)
	},
}

func runPipeline(parent context.Context) error {
	// Missing .env is fine; real deployments use the environment directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	defer stop()

	application, err := app.New(ctx, configPath)

	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		defer cancel()

		application.Shutdown(shutdownCtx)
	}()

	return application.Run(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		envOr("FORECAST_CONFIG", "forecast_config.toml"),
		"Path to the TOML forecast configuration")

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
