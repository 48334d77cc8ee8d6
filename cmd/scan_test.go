package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/gate"
	"github.com/JakeFAU/site-audit/internal/pipeline"
)

type fakeAdmitter struct {
	adm  gate.Admission
	err  error
	reqs []gate.Request
}

func (f *fakeAdmitter) Admit(_ context.Context, req gate.Request) (gate.Admission, error) {
	f.reqs = append(f.reqs, req)
	return f.adm, f.err
}

type fakeOrchestrator struct {
	res    pipeline.Result
	err    error
	domain string
	mode   audit.Mode
	calls  int
}

func (f *fakeOrchestrator) Orchestrate(_ context.Context, _ string, domain string, mode audit.Mode, _ string) (pipeline.Result, error) {
	f.calls++
	f.domain, f.mode = domain, mode
	return f.res, f.err
}

func TestRunScanRendersTables(t *testing.T) {
	t.Parallel()

	ai, pos := 40, 3
	adm := &fakeAdmitter{adm: gate.Admission{ScanID: "scan-1", Status: audit.ScanStatusRunning}}
	orch := &fakeOrchestrator{res: pipeline.Result{
		ScanID:    "scan-1",
		Status:    audit.ScanStatusPreviewReady,
		Summary:   &audit.ScoreSummary{Overall: 64, Technical: 70, AIVisibility: &ai},
		Findings:  []audit.Finding{{RuleID: "missing-title", Title: "Page has no title", Severity: audit.SeverityHigh, Category: audit.CategoryContent}},
		ReportURI: "memory://reports/example.com/2025-06-02/scan-1.json.gz",
		Report: &audit.Report{
			Services: []string{"drain cleaning", "water heater repair"},
			Rankings: []audit.RankResult{
				{Keyword: "drain cleaning austin", Position: &pos, URL: "https://example.com/drains", Checked: true},
				{Keyword: "water heater repair", Checked: true},
				{Keyword: "leak detection"},
			},
		},
	}}

	var out bytes.Buffer
	err := runScan(context.Background(), &out, adm, orch, zap.NewNop(), "https://www.example.com/", scanOptions{mode: "full", location: "Austin, TX"})
	require.NoError(t, err)

	require.Equal(t, "example.com", orch.domain)
	require.Equal(t, audit.ModeFull, orch.mode)
	require.Equal(t, "Austin, TX", adm.reqs[0].LocationHint)
	got := out.String()
	require.Contains(t, got, "scan scan-1 (example.com, full): preview_ready")
	require.Contains(t, got, "overall")
	require.Contains(t, got, "64")
	require.Contains(t, got, "missing-title")
	require.Contains(t, got, "services: Drain Cleaning, Water Heater Repair")
	require.Contains(t, got, "#3")
	require.Contains(t, got, "not ranking")
	require.Contains(t, got, "not checked")
	require.Contains(t, got, "report: memory://reports/example.com/2025-06-02/scan-1.json.gz")
}

func TestRunScanDeduplicatedSkipsPipeline(t *testing.T) {
	t.Parallel()

	adm := &fakeAdmitter{adm: gate.Admission{ScanID: "scan-1", Status: audit.ScanStatusPreviewReady, Deduplicated: true}}
	orch := &fakeOrchestrator{}

	var out bytes.Buffer
	require.NoError(t, runScan(context.Background(), &out, adm, orch, zap.NewNop(), "example.com", scanOptions{mode: "light"}))
	require.Zero(t, orch.calls)
	require.Contains(t, out.String(), "already preview_ready")
}

func TestRunScanJSON(t *testing.T) {
	t.Parallel()

	adm := &fakeAdmitter{adm: gate.Admission{ScanID: "scan-2", Status: audit.ScanStatusRunning}}
	orch := &fakeOrchestrator{res: pipeline.Result{ScanID: "scan-2", Status: audit.ScanStatusFailed, Error: "pipeline broke"}}

	var out bytes.Buffer
	require.NoError(t, runScan(context.Background(), &out, adm, orch, zap.NewNop(), "example.com", scanOptions{mode: "light", asJSON: true}))
	require.Contains(t, out.String(), `"status": "failed"`)
	require.Contains(t, out.String(), `"error": "pipeline broke"`)
}

func TestRunScanErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		adm  *fakeAdmitter
		orch *fakeOrchestrator
		url  string
		mode string
		want string
	}{
		{name: "bad mode", adm: &fakeAdmitter{}, orch: &fakeOrchestrator{}, url: "example.com", mode: "deep", want: "invalid mode"},
		{name: "bad domain", adm: &fakeAdmitter{}, orch: &fakeOrchestrator{}, url: "localhost", mode: "light", want: "normalize domain"},
		{
			name: "admit failure",
			adm:  &fakeAdmitter{err: audit.ErrStoreUnavailable},
			orch: &fakeOrchestrator{},
			url:  "example.com",
			mode: "light",
			want: "admit scan",
		},
		{
			name: "orchestrate failure",
			adm:  &fakeAdmitter{adm: gate.Admission{ScanID: "scan-3"}},
			orch: &fakeOrchestrator{err: errors.New("terminal write failed")},
			url:  "example.com",
			mode: "light",
			want: "orchestrate scan",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := runScan(context.Background(), &out, tc.adm, tc.orch, zap.NewNop(), tc.url, scanOptions{mode: tc.mode})
			require.ErrorContains(t, err, tc.want)
		})
	}
}

type fakeApp struct {
	adm    *fakeAdmitter
	orch   *fakeOrchestrator
	closed int
}

func (a *fakeApp) Run(context.Context) error      { return nil }
func (a *fakeApp) Close(context.Context)          { a.closed++ }
func (a *fakeApp) Logger() *zap.Logger            { return zap.NewNop() }
func (a *fakeApp) Admitter() api.Admitter         { return a.adm }
func (a *fakeApp) Orchestrator() api.Orchestrator { return a.orch }

// Not parallel: swaps the package-level factory.
func TestScanCommandUsesInjectedApp(t *testing.T) {
	app := &fakeApp{
		adm:  &fakeAdmitter{adm: gate.Admission{ScanID: "scan-4", Status: audit.ScanStatusRunning}},
		orch: &fakeOrchestrator{res: pipeline.Result{ScanID: "scan-4", Status: audit.ScanStatusPreviewReady}},
	}
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"scan", "example.com"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, 1, app.orch.calls)
	require.Equal(t, audit.ModeLight, app.orch.mode)
	require.Equal(t, 1, app.closed)
	require.Contains(t, out.String(), "scan scan-4 (example.com, light): preview_ready")
}
