// Package store persists small blobs for the lobby: the compiled scenario
// of each room and the last display name used for each (room, role).
//
// The engine never touches storage. Everything goes through the KV
// interface, which has four backends:
//   - SQLite (default): WAL-mode database with an embedded schema and
//     user_version migrations
//   - Bolt: a single BoltDB bucket
//   - Remote: the relay's /kv HTTP endpoint, for clients without local disk
//   - Memory: process-local map for tests and single-process play
//
// Keys are derived from upper-cased room codes (see ScenarioKey, NameKey).
// A missing key is reported as ErrNotFound by every backend.
package store
