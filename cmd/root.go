package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/config"
	"github.com/JakeFAU/site-audit/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the wired application. Tests inject a
// fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context)
	Logger() *zap.Logger
	Admitter() api.Admitter
	Orchestrator() api.Orchestrator
}

// newApp is the application factory.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteaudit",
		Short: "Website audit scanner",
		Long: `siteaudit scans a website's crawlability, performance, search
visibility and AI readiness, and turns the results into scored findings.
Run "serve" for the HTTP API or "scan" for a one-off audit.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the SITEAUDIT_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
