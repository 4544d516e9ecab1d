// Package sinks implements result consumers: structured logs, an in-memory
// collector, Prometheus counters, and Postgres or SQLite tables. Each sink
// satisfies results.Sink.
package sinks
