// Package cmd defines the linkcheck command line.
//
// Architecture overview:
//   - Configuration: Viper merges the config file, CHECKER_ environment
//     variables, and command flags into a typed config.Config.
//   - Engine: "check" hands the seeds to engine.Run, which drains the crawl
//     queue with a bounded worker pool. Workers drive each record through the
//     checker state machine, share results through the cache, and enqueue the
//     links found in recursable content.
//   - Results: every terminal record is emitted to the result hub, which
//     batches records to the configured sinks (logs, memory, Postgres,
//     SQLite, Prometheus).
//   - Status: when server.listen is set a chi server exposes /healthz,
//     /metrics and /v1/status while the run is in progress.
//
// Exit status: 0 when every link is valid, 1 when broken links were found,
// 2 when the run could not be performed.
package cmd
