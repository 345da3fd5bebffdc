/*
NAME
  catalog.go

DESCRIPTION
  catalog.go persists SourceProfile and Spec documents in a local
  badger database, and queues incoming spec-ingest requests on Redis for
  a worker to pick up. It is an external collaborator of the DVE core,
  not part of it: the core never imports this package.
*/

// Package catalog provides durable storage for source profiles and
// specs, plus an ephemeral ingest queue, backing the server package's
// /v2/source and /v2/spec endpoints.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/vferr"
)

const ingestQueueKey = "vidformer:spec-ingest"

var (
	sourceKeyPrefix = []byte("source:")
	specKeyPrefix   = []byte("spec:")
)

// SpecDoc is the persisted form of a Spec: the raw JSON envelope plus
// enough metadata to serve it without re-parsing on every request.
type SpecDoc struct {
	ID        string          `json:"id"`
	Doc       json.RawMessage `json:"doc"`
	CreatedAt time.Time       `json:"created_at"`
}

// Catalog is a badger-backed store of SourceProfile and SpecDoc
// documents, keyed by name/UUID.
type Catalog struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir.
func Open(dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, vferr.Wrap(vferr.IOError, err, "open catalog at %q", dir)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutSource persists p under its Name.
func (c *Catalog) PutSource(p *source.Profile) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return vferr.Wrap(vferr.Unknown, err, "marshal source profile %q", p.Name)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(append([]byte{}, sourceKeyPrefix...), p.Name...), buf)
	})
}

// GetSource retrieves the source profile named name.
func (c *Catalog) GetSource(name string) (*source.Profile, error) {
	var p source.Profile
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, sourceKeyPrefix...), name...))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return vferr.New(vferr.SourceNotFound, "source %q not found in catalog", name)
			}
			return vferr.Wrap(vferr.IOError, err, "read source %q", name)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutSpec persists doc under a freshly generated UUID and returns it.
func (c *Catalog) PutSpec(doc json.RawMessage) (string, error) {
	id := uuid.NewString()
	sd := SpecDoc{ID: id, Doc: doc, CreatedAt: time.Now()}
	buf, err := json.Marshal(sd)
	if err != nil {
		return "", vferr.Wrap(vferr.Unknown, err, "marshal spec %q", id)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(append([]byte{}, specKeyPrefix...), id...), buf)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetSpec retrieves the spec document with the given id.
func (c *Catalog) GetSpec(id string) (*SpecDoc, error) {
	var sd SpecDoc
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, specKeyPrefix...), id...))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return vferr.New(vferr.Unknown, "spec %q not found in catalog", id)
			}
			return vferr.Wrap(vferr.IOError, err, "read spec %q", id)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sd)
		})
	})
	if err != nil {
		return nil, err
	}
	return &sd, nil
}

// IngestQueue is an ephemeral Redis-backed FIFO of spec IDs awaiting
// processing (e.g. profiling referenced sources, deriving an HLS plan)
// by a background worker.
type IngestQueue struct {
	rdb *redis.Client
}

// NewIngestQueue builds a queue against a Redis server at addr.
func NewIngestQueue(addr string) *IngestQueue {
	return &IngestQueue{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewIngestQueueClient wraps an already-constructed client (e.g. one
// pointed at a miniredis instance in tests).
func NewIngestQueueClient(rdb *redis.Client) *IngestQueue {
	return &IngestQueue{rdb: rdb}
}

// Close releases the underlying Redis client.
func (q *IngestQueue) Close() error {
	return q.rdb.Close()
}

// Push enqueues specID for processing.
func (q *IngestQueue) Push(ctx context.Context, specID string) error {
	if err := q.rdb.RPush(ctx, ingestQueueKey, specID).Err(); err != nil {
		return vferr.Wrap(vferr.IOError, err, "push spec %q onto ingest queue", specID)
	}
	return nil
}

// Pop blocks up to timeout for the next queued spec ID. A zero-value
// return with ok=false means the timeout elapsed with nothing queued.
func (q *IngestQueue) Pop(ctx context.Context, timeout time.Duration) (specID string, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, ingestQueueKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, vferr.Wrap(vferr.IOError, err, "pop ingest queue")
	}
	if len(res) != 2 {
		return "", false, vferr.New(vferr.Unknown, "unexpected BLPOP reply shape: %v", res)
	}
	return res[1], true, nil
}

// String is a small debug helper used by the server's / root handler.
func (q *IngestQueue) String() string {
	return fmt.Sprintf("IngestQueue(%s)", q.rdb.Options().Addr)
}
