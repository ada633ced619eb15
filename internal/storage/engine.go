package storage

import (
	"errors"

	"github.com/ringkv/ringkv/pkg/types"
)

var ErrCorruptData = errors.New("data corruption detected")

// WriteError wraps a failed durable write (append/appendAll/writeAll/clear),
// surfaced to the coordinator as a storage failure.
type WriteError struct{ Err error }

func (e *WriteError) Error() string { return "storage write failed: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a failed readAll.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return "storage read failed: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// StorageManager is the durability capability consumed by the membership
// engine and the quorum coordinator. The in-memory cache it keeps is a
// write-through reflection of disk contents: Append/AppendAll/WriteAll
// update disk before cache, and Get/Cache never touch disk.
type StorageManager interface {
	// Clear truncates the record file and resets the cache.
	Clear() error

	// ReadAll parses the entire file, repopulates the cache, and returns the
	// authoritative (key -> latest item) state. Used at join/recovery.
	ReadAll() (map[int64]types.VersionedItem, error)

	// Append durably adds one record and updates the cache. Duplicates on
	// disk are resolved by ReadAll returning the most recently appended item
	// per key; Append need not physically remove the stale copy.
	Append(key int64, item types.VersionedItem) error

	// AppendAll is the batch form of Append (join/leave data transfer).
	AppendAll(records map[int64]types.VersionedItem) error

	// WriteAll atomically replaces the file's contents with exactly these
	// records and resets the cache to match (used by purge).
	WriteAll(records map[int64]types.VersionedItem) error

	// Get is a cache-only lookup, no disk I/O — the replica read handler
	// uses this, never ReadAll.
	Get(key int64) (types.VersionedItem, bool)

	// Cache returns a snapshot of the write-through cache, which always
	// matches ReadAll()'s result at every handler exit.
	Cache() map[int64]types.VersionedItem

	// Compact rewrites the log keeping only the latest version per key.
	// Supplemental: no control-plane code calls this; it exists for an
	// operator endpoint, grounded in a prior Bitcask Compact().
	Compact() error

	// Close releases the underlying file handle.
	Close() error
}
