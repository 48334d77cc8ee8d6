package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scan HTTP API",
		Long: `Starts the HTTP API. POST /v1/scans admits and runs a scan; the
scan, agent run and rollup endpoints read back results. The server drains
in-flight requests on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
}
