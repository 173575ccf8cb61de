// Package database implements the persistent client record store.
//
// Records are keyed on api_key with a secondary lookup on name.
// Deleting a client never removes its record: the record is replaced by
// a tombstone that keeps the client id and sets the api key to the
// "revoked" sentinel, so client ids stay monotonic and are never reused.
//
// Backends are pluggable through a compile-time registry; the built-in
// ones are "json" (single file, the default), "badger" (embedded
// key-value store) and "redis" (network key-value store).
package database
