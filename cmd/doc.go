// Package cmd defines and implements the CLI commands for the scanfleet
// executable.
//
// Architecture overview:
//   - Binding: config supplies locations and accounts; internal/binder pairs
//     them index by index. Excess locations are dropped with a warning and
//     spare accounts are ignored. Zero pairs is a configuration error.
//   - Fleet: internal/overseer starts one internal/worker per pair. Every
//     worker reads the shared internal/pause signal before each scan, backs
//     off exponentially on transient failures and fails permanently on fatal
//     ones or once its consecutive-failure ceiling is exceeded. One failed
//     worker never stops the others.
//   - Scanning: --mock selects the deterministic internal/scanner/mock source;
//     otherwise internal/scanner/remote talks to the scan gateway with one
//     session and one rate limiter per account.
//   - Ingestion: results pass through internal/ingest to the primary entity
//     store (memory, Postgres or SQLite), then to an optional JSON archive
//     (memory, local disk or GCS) and optional Pub/Sub notification.
//   - Control surface: internal/api serves health, readiness, Prometheus
//     metrics, pause/resume/toggle and the fleet status snapshot.
//
// Quick checklist:
//   - Run locally: scanfleet run --mock --location 40.7128,-74.0060 --account ash:pikachu
//   - Env overrides: SCANFLEET_FLEET_INTERVAL=30s, SCANFLEET_SINK_BACKEND=postgres,
//     SCANFLEET_DB_DSN=..., SCANFLEET_AUTH_ENABLED=true, SCANFLEET_AUTH_API_KEY=...
//   - Pause from outside: curl -X POST localhost:8080/v1/search/pause
package cmd
