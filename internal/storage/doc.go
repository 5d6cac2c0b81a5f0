// Package storage persists jobs and session windows so the dispatch queue
// can resume after a restart.
//
// Two drivers share one Store interface: a dependency-free file backend
// (append-only JSONL journal compacted into a snapshot) and an optional
// SQLite backend selected with -tags sqlite.
package storage
