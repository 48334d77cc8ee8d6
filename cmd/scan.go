package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/gate"
	"github.com/JakeFAU/site-audit/internal/keywords"
	"github.com/JakeFAU/site-audit/internal/pipeline"
	"github.com/JakeFAU/site-audit/internal/rank"
)

type scanOptions struct {
	mode     string
	force    bool
	location string
	asJSON   bool
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Runs one scan and prints its findings",
		Long: `Admits a scan for the given site, runs every agent scheduled for the
mode and prints the score summary and findings. A scan already active for
the same site, mode and day is reported instead of rerun unless --force is
set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), cmd.OutOrStdout(), appInstance.Admitter(), appInstance.Orchestrator(),
				appInstance.Logger(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(audit.ModeLight), "scan mode: light or full")
	cmd.Flags().BoolVar(&opts.force, "force", false, "start a new scan even if one is active today")
	cmd.Flags().StringVar(&opts.location, "location", "", "location hint for keywords and rank checks")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runScan(
	ctx context.Context,
	out io.Writer,
	admitter api.Admitter,
	orchestrator api.Orchestrator,
	logger *zap.Logger,
	rawURL string,
	opts scanOptions,
) error {
	mode := audit.Mode(opts.mode)
	if mode != audit.ModeLight && mode != audit.ModeFull {
		return fmt.Errorf("invalid mode %q: must be light or full", opts.mode)
	}
	domain, err := audit.NormalizeDomain(rawURL)
	if err != nil {
		return fmt.Errorf("normalize domain: %w", err)
	}

	adm, err := admitter.Admit(ctx, gate.Request{
		Domain:       rawURL,
		Mode:         mode,
		Force:        opts.force,
		LocationHint: opts.location,
	})
	if err != nil {
		return fmt.Errorf("admit scan: %w", err)
	}
	if adm.Deduplicated {
		logger.Info("scan already active", zap.String("scan_id", adm.ScanID), zap.String("status", string(adm.Status)))
		if opts.asJSON {
			return printJSON(out, adm)
		}
		_, err := fmt.Fprintf(out, "scan %s for %s is already %s (use --force to rescan)\n", adm.ScanID, domain, adm.Status)
		return err
	}

	res, err := orchestrator.Orchestrate(ctx, adm.ScanID, domain, mode, opts.location)
	if err != nil {
		return fmt.Errorf("orchestrate scan: %w", err)
	}
	if opts.asJSON {
		return printJSON(out, res)
	}
	renderResult(out, domain, mode, res)
	return nil
}

func renderResult(out io.Writer, domain string, mode audit.Mode, res pipeline.Result) {
	fmt.Fprintf(out, "scan %s (%s, %s): %s\n", res.ScanID, domain, mode, res.Status)
	if res.Error != "" {
		fmt.Fprintf(out, "error: %s\n", res.Error)
	}
	if res.Summary != nil {
		s := res.Summary
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.AppendHeader(table.Row{"Category", "Score"})
		tw.AppendRow(table.Row{"overall", s.Overall})
		tw.AppendRow(table.Row{"technical", s.Technical})
		tw.AppendRow(table.Row{"performance", s.Performance})
		tw.AppendRow(table.Row{"content", s.Content})
		tw.AppendRow(table.Row{"serp", s.SERP})
		tw.AppendRow(table.Row{"authority", s.Authority})
		ai := "n/a"
		if s.AIVisibility != nil {
			ai = strconv.Itoa(*s.AIVisibility)
		}
		tw.AppendRow(table.Row{"ai_visibility", ai})
		tw.Render()
	}
	if len(res.Findings) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.AppendHeader(table.Row{"Severity", "Category", "Rule", "Title"})
		for _, f := range res.Findings {
			tw.AppendRow(table.Row{f.Severity, f.Category, f.RuleID, f.Title})
		}
		tw.Render()
	}
	if res.Report != nil {
		renderReport(out, res.Report)
	}
	if res.ReportURI != "" {
		fmt.Fprintf(out, "report: %s\n", res.ReportURI)
	}
}

// renderReport prints the detected services and, for full scans, where the
// site ranks for each checked keyword.
func renderReport(out io.Writer, report *audit.Report) {
	if len(report.Services) > 0 {
		names := make([]string, len(report.Services))
		for i, svc := range report.Services {
			names[i] = keywords.DisplayName(svc)
		}
		fmt.Fprintf(out, "services: %s\n", strings.Join(names, ", "))
	}
	if report.ServiceDetectionWarning != "" {
		fmt.Fprintf(out, "note: %s\n", report.ServiceDetectionWarning)
	}
	if len(report.Rankings) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Keyword", "Rank", "URL"})
	for _, r := range report.Rankings {
		tw.AppendRow(table.Row{r.Keyword, rank.Describe(r), r.URL})
	}
	tw.Render()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
