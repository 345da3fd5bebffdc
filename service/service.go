/*
NAME
  service.go

DESCRIPTION
  service.go abstracts storage backends so a SourceProfile can name a
  service descriptor rather than a hardcoded filesystem path scheme, and
  provides a seekable byte reader per source.
*/

// Package service provides storage-backend abstraction: a descriptor
// naming a backend plus its config, a registry resolving descriptors to
// readers, and an optional caching layer wrapping any backend.
package service

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ixlab/vidformer/vferr"
)

// Descriptor names a storage backend and its backend-specific
// configuration, e.g. {Service: "fs", Config: {"root": "/data"}}.
type Descriptor struct {
	Service string            `json:"service"`
	Config  map[string]string `json:"config"`
}

// Reader is a seekable byte source for one file within a service.
type Reader interface {
	io.ReadSeekCloser
	Size() (int64, error)
}

// Backend constructs Readers for paths under one service instance.
type Backend interface {
	Open(path string) (Reader, error)
	Size(path string) (int64, error)
}

// Registry resolves a Descriptor's Service name to a Backend.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]func(cfg map[string]string) (Backend, error)
	cache    map[string]Backend
}

// NewRegistry returns a Registry pre-populated with the filesystem
// backend; callers add others (e.g. object storage) via Register.
func NewRegistry() *Registry {
	r := &Registry{
		backends: map[string]func(map[string]string) (Backend, error){},
		cache:    map[string]Backend{},
	}
	r.Register("fs", newFSBackend)
	return r
}

// Register adds a named backend constructor.
func (r *Registry) Register(name string, ctor func(cfg map[string]string) (Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = ctor
}

func (r *Registry) backendFor(d Descriptor) (Backend, error) {
	key := d.Service + "\x00" + fmt.Sprint(d.Config)
	r.mu.RLock()
	if b, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache[key]; ok {
		return b, nil
	}
	ctor, ok := r.backends[d.Service]
	if !ok {
		return nil, vferr.New(vferr.IOError, "unknown storage service %q", d.Service)
	}
	b, err := ctor(d.Config)
	if err != nil {
		return nil, err
	}
	r.cache[key] = b
	return b, nil
}

// Open resolves d and opens path against its backend.
func (r *Registry) Open(d Descriptor, path string) (Reader, error) {
	b, err := r.backendFor(d)
	if err != nil {
		return nil, err
	}
	rd, err := b.Open(path)
	if err != nil {
		return nil, vferr.Wrap(vferr.IOError, err, "open %q", path)
	}
	return rd, nil
}

// Size resolves d and stats path against its backend.
func (r *Registry) Size(d Descriptor, path string) (int64, error) {
	b, err := r.backendFor(d)
	if err != nil {
		return 0, err
	}
	sz, err := b.Size(path)
	if err != nil {
		return 0, vferr.Wrap(vferr.IOError, err, "stat %q", path)
	}
	return sz, nil
}

// fsBackend serves local filesystem paths, optionally rooted.
type fsBackend struct {
	root string
}

func newFSBackend(cfg map[string]string) (Backend, error) {
	return &fsBackend{root: cfg["root"]}, nil
}

func (b *fsBackend) resolve(path string) string {
	if b.root == "" {
		return path
	}
	return b.root + string(os.PathSeparator) + path
}

func (b *fsBackend) Open(path string) (Reader, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("File `%s` not found", path)
		}
		return nil, err
	}
	return &fsReader{f}, nil
}

func (b *fsBackend) Size(path string) (int64, error) {
	fi, err := os.Stat(b.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("File `%s` not found", path)
		}
		return 0, err
	}
	return fi.Size(), nil
}

type fsReader struct{ *os.File }

func (r *fsReader) Size() (int64, error) {
	fi, err := r.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
