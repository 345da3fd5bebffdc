/*
NAME
  cache.go

DESCRIPTION
  cache.go wraps any storage Backend with a byte-range cache backed by
  badger, so repeated profiling/decoding of the same remote source doesn't
  re-fetch bytes already seen during this process's lifetime.
*/

package service

import (
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
)

const cacheChunkSize = 1 << 20 // 1 MiB byte-range chunks.

// CachingBackend wraps an inner Backend, caching fixed-size byte ranges in
// a badger key-value store keyed by (path, chunk index).
type CachingBackend struct {
	inner Backend
	db    *badger.DB
}

// NewCachingBackend opens (or creates) a badger database at dir and
// returns a Backend that caches reads from inner through it.
func NewCachingBackend(inner Backend, dir string) (*CachingBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("vidformer: IOError: open cache at %q: %w", dir, err)
	}
	return &CachingBackend{inner: inner, db: db}, nil
}

func (c *CachingBackend) Close() error { return c.db.Close() }

func (c *CachingBackend) Size(path string) (int64, error) { return c.inner.Size(path) }

func (c *CachingBackend) Open(path string) (Reader, error) {
	size, err := c.inner.Size(path)
	if err != nil {
		return nil, err
	}
	return &cachingReader{backend: c, path: path, size: size}, nil
}

type cachingReader struct {
	backend *CachingBackend
	path    string
	size    int64
	off     int64
	inner   Reader
}

func (r *cachingReader) chunkKey(idx int64) []byte {
	return []byte(fmt.Sprintf("chunk:%s:%d", r.path, idx))
}

func (r *cachingReader) fetchChunk(idx int64) ([]byte, error) {
	key := r.chunkKey(idx)

	var out []byte
	err := r.backend.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err == nil {
		return out, nil
	}
	if err != badger.ErrKeyNotFound {
		return nil, err
	}

	if r.inner == nil {
		rd, err := r.backend.inner.Open(r.path)
		if err != nil {
			return nil, err
		}
		r.inner = rd
	}

	start := idx * cacheChunkSize
	end := start + cacheChunkSize
	if end > r.size {
		end = r.size
	}
	buf := make([]byte, end-start)
	if _, err := r.inner.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r.inner, buf); err != nil {
		return nil, err
	}

	_ = r.backend.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
	return buf, nil
}

func (r *cachingReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && r.off < r.size {
		idx := r.off / cacheChunkSize
		chunk, err := r.fetchChunk(idx)
		if err != nil {
			return n, err
		}
		chunkOff := r.off % cacheChunkSize
		c := copy(p[n:], chunk[chunkOff:])
		n += c
		r.off += int64(c)
	}
	return n, nil
}

func (r *cachingReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.off = offset
	case io.SeekCurrent:
		r.off += offset
	case io.SeekEnd:
		r.off = r.size + offset
	}
	return r.off, nil
}

func (r *cachingReader) Size() (int64, error) { return r.size, nil }

func (r *cachingReader) Close() error {
	if r.inner != nil {
		return r.inner.Close()
	}
	return nil
}
