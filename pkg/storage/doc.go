// Package storage persists the per-interface state of a Thread node: the
// active and pending operational datasets, the device identity, the last
// parent and own short address, and the frame counters.
//
// Two backends are provided. MemoryStorage keeps records in process and is
// used by tests and ephemeral nodes. SQLiteStorage keeps CBOR encoded
// records in a single SQLite table.
//
// Reads return ErrNotFound when a record is absent and ErrCorrupt when it
// cannot be decoded. Callers in the attach path treat both as "no record".
package storage
