// Package storage implements the durable append-log Storage Gateway,
// adapted from a Bitcask engine (internal/storage/bitcask.go,
// index.go): CRC32-framed records appended to a single file, an in-memory
// index for fast lookups, rebuilt from disk on open. Its (string
// key, []byte value, timestamp, tombstone) record becomes (int64 key,
// VersionedItem{value, version}) — there is no delete in this client
// vocabulary, so no tombstone path.
package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ringkv/ringkv/pkg/types"
)

const (
	// record layout: CRC32(4) + Key(8) + Version(8) + ValueLen(4) + Value
	headerSize   = 4 + 8 + 8 + 4
	dataFileName = "records.db"
)

// FileStore implements StorageManager.
type FileStore struct {
	mu       sync.Mutex
	dataDir  string
	dataFile *os.File
	writer   *bufio.Writer
	idx      *index
	position int64
	closed   bool

	cacheMu sync.RWMutex
	cache   map[int64]types.VersionedItem
}

// NewFileStore opens (or creates) the record file under dataDir and rebuilds
// the in-memory index and cache from whatever is already on disk — this is
// how a recovering node's storage survives process death.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, dataFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	fs := &FileStore{
		dataDir:  dataDir,
		dataFile: f,
		writer:   bufio.NewWriterSize(f, 64*1024),
		idx:      newIndex(),
		cache:    make(map[int64]types.VersionedItem),
	}

	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to end: %w", err)
	}
	fs.position = pos

	if pos > 0 {
		if err := fs.rebuild(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to rebuild index: %w", err)
		}
	}

	return fs, nil
}

type rawEntry struct {
	Key     int64
	Item    types.VersionedItem
	Offset  int64
	Size    int32
	Bytes   int
}

func (fs *FileStore) readEntry(r io.Reader, offset int64) (*rawEntry, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	storedCRC := binary.BigEndian.Uint32(header[0:4])
	key := int64(binary.BigEndian.Uint64(header[4:12]))
	version := binary.BigEndian.Uint64(header[12:20])
	valueLen := binary.BigEndian.Uint32(header[20:24])

	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}

	data := append(append([]byte{}, header[4:]...), value...)
	if crc32.ChecksumIEEE(data) != storedCRC {
		return nil, ErrCorruptData
	}

	return &rawEntry{
		Key:    key,
		Item:   types.VersionedItem{Value: string(value), Version: version},
		Offset: offset,
		Size:   int32(valueLen),
		Bytes:  headerSize + int(valueLen),
	}, nil
}

func (fs *FileStore) rebuild() error {
	f, err := os.Open(filepath.Join(fs.dataDir, dataFileName))
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var offset int64

	cache := make(map[int64]types.VersionedItem)
	idx := newIndex()

	for {
		e, err := fs.readEntry(r, offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error at offset %d: %w", offset, err)
		}

		cache[e.Key] = e.Item
		idx.put(e.Key, e.Offset, e.Size)
		offset += int64(e.Bytes)
	}

	fs.idx = idx
	fs.cacheMu.Lock()
	fs.cache = cache
	fs.cacheMu.Unlock()
	return nil
}

func (fs *FileStore) writeEntry(key int64, item types.VersionedItem) (int64, error) {
	valueBytes := []byte(item.Value)

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[4:12], uint64(key))
	binary.BigEndian.PutUint64(header[12:20], item.Version)
	binary.BigEndian.PutUint32(header[20:24], uint32(len(valueBytes)))

	data := append(append([]byte{}, header[4:]...), valueBytes...)
	binary.BigEndian.PutUint32(header[0:4], crc32.ChecksumIEEE(data))

	offset := fs.position

	if _, err := fs.writer.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := fs.writer.Write(valueBytes); err != nil {
		return 0, fmt.Errorf("failed to write value: %w", err)
	}
	if err := fs.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}
	if err := fs.dataFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync: %w", err)
	}

	fs.position += int64(headerSize + len(valueBytes))
	return offset, nil
}

// Append implements StorageManager.
func (fs *FileStore) Append(key int64, item types.VersionedItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	offset, err := fs.writeEntry(key, item)
	if err != nil {
		return &WriteError{Err: err}
	}
	fs.idx.put(key, offset, int32(len(item.Value)))

	fs.cacheMu.Lock()
	fs.cache[key] = item
	fs.cacheMu.Unlock()
	return nil
}

// AppendAll implements StorageManager.
func (fs *FileStore) AppendAll(records map[int64]types.VersionedItem) error {
	for key, item := range records {
		if err := fs.Append(key, item); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll implements StorageManager: re-parses the file from disk (the
// authoritative state) and repopulates the cache.
func (fs *FileStore) ReadAll() (map[int64]types.VersionedItem, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.rebuild(); err != nil {
		return nil, &ReadError{Err: err}
	}
	return fs.Cache(), nil
}

// WriteAll implements StorageManager: atomically replaces the file's
// contents with exactly these records (purge's retained subset).
func (fs *FileStore) WriteAll(records map[int64]types.VersionedItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmpPath := filepath.Join(fs.dataDir, dataFileName+".tmp")
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return &WriteError{Err: err}
	}

	w := bufio.NewWriterSize(tmpFile, 64*1024)
	newIdx := newIndex()
	var pos int64

	for key, item := range records {
		valueBytes := []byte(item.Value)
		header := make([]byte, headerSize)
		binary.BigEndian.PutUint64(header[4:12], uint64(key))
		binary.BigEndian.PutUint64(header[12:20], item.Version)
		binary.BigEndian.PutUint32(header[20:24], uint32(len(valueBytes)))
		data := append(append([]byte{}, header[4:]...), valueBytes...)
		binary.BigEndian.PutUint32(header[0:4], crc32.ChecksumIEEE(data))

		if _, err := w.Write(header); err != nil {
			tmpFile.Close()
			return &WriteError{Err: err}
		}
		if _, err := w.Write(valueBytes); err != nil {
			tmpFile.Close()
			return &WriteError{Err: err}
		}

		newIdx.put(key, pos, int32(len(valueBytes)))
		pos += int64(headerSize + len(valueBytes))
	}

	if err := w.Flush(); err != nil {
		tmpFile.Close()
		return &WriteError{Err: err}
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return &WriteError{Err: err}
	}
	tmpFile.Close()

	oldPath := filepath.Join(fs.dataDir, dataFileName)
	if err := os.Rename(tmpPath, oldPath); err != nil {
		return &WriteError{Err: err}
	}

	fs.dataFile.Close()
	fs.dataFile, err = os.OpenFile(oldPath, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return &WriteError{Err: err}
	}

	fs.writer = bufio.NewWriterSize(fs.dataFile, 64*1024)
	fs.idx = newIdx
	fs.position = pos

	newCache := make(map[int64]types.VersionedItem, len(records))
	for k, v := range records {
		newCache[k] = v
	}
	fs.cacheMu.Lock()
	fs.cache = newCache
	fs.cacheMu.Unlock()
	return nil
}

// Clear implements StorageManager.
func (fs *FileStore) Clear() error {
	return fs.WriteAll(map[int64]types.VersionedItem{})
}

// Get implements StorageManager: cache-only, no disk I/O.
func (fs *FileStore) Get(key int64) (types.VersionedItem, bool) {
	fs.cacheMu.RLock()
	defer fs.cacheMu.RUnlock()
	item, ok := fs.cache[key]
	return item, ok
}

// Cache implements StorageManager.
func (fs *FileStore) Cache() map[int64]types.VersionedItem {
	fs.cacheMu.RLock()
	defer fs.cacheMu.RUnlock()
	out := make(map[int64]types.VersionedItem, len(fs.cache))
	for k, v := range fs.cache {
		out[k] = v
	}
	return out
}

// Compact rewrites the log keeping only the cache's current per-key latest
// item, dropping stale on-disk duplicates. Supplemental, grounded in a prior
// Bitcask.Compact(); never called by the control plane.
func (fs *FileStore) Compact() error {
	return fs.WriteAll(fs.Cache())
}

// Close implements StorageManager.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	if err := fs.writer.Flush(); err != nil {
		return err
	}
	if err := fs.dataFile.Sync(); err != nil {
		return err
	}
	return fs.dataFile.Close()
}
