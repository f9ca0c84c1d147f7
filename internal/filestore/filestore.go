// Package filestore handles on-disk I/O for file transfers: writing a
// completed inbound file once all shards have combined, and chunking an
// outbound file into shard-sized reads. It adapts a pre-allocated disk
// writer to the chat engine's "gather shards in memory, flush once
// complete" model instead of per-piece verification.
package filestore

import (
	"fmt"
	"os"

	"github.com/nilsray/peerlink/internal/wire"
)

// WriteFile writes the fully reassembled bytes of an inbound transfer to
// path, pre-allocating and syncing exactly as a verified-piece writer
// would, collapsed to a single whole-file flush since the chat protocol
// combines in memory before touching disk.
func WriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(len(data))); err != nil {
		return fmt.Errorf("filestore: preallocate %s: %w", path, err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("filestore: write %s: %w", path, err)
	}
	return f.Sync()
}

// Reader chunks an outbound file into wire.MaxPayload-sized shards, the
// same block-sized-read convention applied to a flat file instead of a
// piece buffer.
type Reader struct {
	f    *os.File
	size int64
}

// OpenReader opens path for chunked outbound reads.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filestore: stat %s: %w", path, err)
	}
	return &Reader{f: f, size: info.Size()}, nil
}

// Size returns the file's total byte length.
func (r *Reader) Size() int64 { return r.size }

// ShardCount returns the number of wire.MaxPayload-sized shards the file
// splits into.
func (r *Reader) ShardCount() uint64 {
	return uint64((r.size + wire.MaxPayload - 1) / wire.MaxPayload)
}

// Shard reads shard index (0-based) from the file.
func (r *Reader) Shard(index uint64) ([]byte, error) {
	offset := int64(index) * wire.MaxPayload
	if offset >= r.size {
		return nil, fmt.Errorf("filestore: shard %d out of range", index)
	}

	n := wire.MaxPayload
	if remaining := r.size - offset; remaining < int64(n) {
		n = int(remaining)
	}

	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("filestore: read shard %d: %w", index, err)
	}
	return buf, nil
}

// ReadAll reads the entire file into memory, for computing a whole-file
// CRC before fragmenting.
func (r *Reader) ReadAll() ([]byte, error) {
	buf := make([]byte, r.size)
	if _, err := r.f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("filestore: read all: %w", err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }
