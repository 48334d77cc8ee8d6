// Package cmd defines the CLI commands for the siteaudit executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates scan requests, asks the admission gate (internal/gate) for a scan ID,
//     and runs the pipeline for new scans. Deduplicated requests return the existing scan for the same domain, mode
//     and calendar day.
//   - Pipeline: internal/pipeline schedules agents as a dependency graph. Crawl and performance run concurrently,
//     keywords follow them, then rank and competitive analysis in full mode. AI readiness runs whenever content was
//     crawled. Every agent run is recorded through internal/executor, including skips.
//   - Scoring: internal/scoring turns whatever the agents produced into findings, category scores and the report.
//     Missing agent data lowers confidence through fallbacks rather than failing the scan.
//   - Persistence & fanout: scans, agent runs and rollups live in memory, SQLite or Postgres. Reports are archived
//     gzipped to memory, local disk, GCS or S3, and a scan.completed event is published to Pub/Sub when configured.
//   - Configuration & plumbing: Viper reads config files and SITEAUDIT_ environment variables; zap logs carry scan
//     IDs; Prometheus metrics are served on /metrics; OpenTelemetry spans cover the scan and each phase.
//
// Quick checklist:
//   - Run the API: siteaudit serve --config config.yaml
//   - One-off scan: siteaudit scan example.com --mode full
//   - Rank checks need SITEAUDIT_RANK_ENDPOINT and SITEAUDIT_RANK_API_KEY; set SITEAUDIT_REDIS_ADDR to cache SERP
//     responses.
package cmd
