// Package storage persists the engine's documents: settings, domain pools,
// projects and the two tool runs.
//
// Two drivers share one document layer:
//   - "file": one JSON file per document in a directory, written atomically
//     with a .bak copy of the previous version
//   - "sqlite": rows of a single documents table (modernc.org/sqlite)
//
// A document that fails to decode is quarantined and its backup is tried;
// if that fails too the load returns a config error.
package storage
