// Package hostcounter tracks per-upstream-host request counts in an
// in-memory pebble instance. Grounded on storage/sharedkv/kv_pebble.go's
// memSharedKV, narrowed from a general get/set/iterate KV store down to the
// Incr and Get operations this package actually needs.
package hostcounter

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// Counter tracks request counts keyed by upstream host, backed by an
// in-memory pebble database. It is safe for concurrent use.
type Counter struct {
	mu sync.Mutex
	db *pebble.DB
}

// New opens a fresh in-memory counter store.
func New() (*Counter, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("hostcounter: open: %w", err)
	}
	return &Counter{db: db}, nil
}

// Close releases the underlying pebble database.
func (c *Counter) Close() error {
	return c.db.Close()
}

// Incr increments host's counter by one and returns the new total.
func (c *Counter) Incr(host string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := []byte(host)
	batch := c.db.NewIndexedBatch()
	defer func() { _ = batch.Close() }()

	var counter uint32
	val, closer, err := batch.Get(key)
	if err == nil {
		counter = binary.BigEndian.Uint32(val)
		_ = closer.Close()
	}
	counter++

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, counter)

	if err := batch.Set(key, buf, pebble.NoSync); err != nil {
		return 0, fmt.Errorf("hostcounter: set: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, fmt.Errorf("hostcounter: commit: %w", err)
	}
	return counter, nil
}

// Get returns host's current count, or zero if it has never been seen.
func (c *Counter) Get(host string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, closer, err := c.db.Get([]byte(host))
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("hostcounter: get: %w", err)
	}
	defer func() { _ = closer.Close() }()
	return binary.BigEndian.Uint32(val), nil
}
