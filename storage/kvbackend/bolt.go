// Package kvbackend provides the local key-value backend for snapshot
// storage.
package kvbackend

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/fabrik/fabrik/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Bolt stores key-value pairs in bolt db.
type Bolt struct {
	db *bolt.DB
}

// NewBolt creates a new BoltDB instance with the default location
// (~/.fabrik/state.db). The directory is created if it does not exist.
func NewBolt() (*Bolt, error) {
	u, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	file := filepath.Join(u.HomeDir, ".fabrik", "state.db")
	return NewBoltWithFile(file)
}

// NewBoltWithFile creates and opens a database at the given path. If the
// file or directory do not exist, they are created.
func NewBoltWithFile(file string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return nil, errors.Wrapf(err, "ensure dir exists: %s", filepath.Dir(file))
	}
	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	return &Bolt{db: db}, nil
}

// Close closes the Bolt DB store and releases all resources.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// boltBucketKey splits a key on the first separator into a bucket name and
// the key within the bucket.
func boltBucketKey(key string) ([]byte, []byte, error) {
	i := strings.Index(key, "/")
	if i <= 0 || i == len(key)-1 {
		return nil, nil, errors.Errorf("key %q must have the format <bucket>/<key>", key)
	}
	return []byte(key[:i]), []byte(key[i+1:]), nil
}

// Put creates or updates a value.
func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		buc, k, err := boltBucketKey(key)
		if err != nil {
			return err
		}
		bkt, err := tx.CreateBucketIfNotExists(buc)
		if err != nil {
			return errors.Wrap(err, "ensure bucket exists")
		}
		return bkt.Put(k, value)
	})
}

// Get returns a single value. Returns storage.ErrNotFound if the key does
// not exist.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	var ret []byte
	if err := b.db.View(func(tx *bolt.Tx) error {
		buc, k, err := boltBucketKey(key)
		if err != nil {
			return err
		}
		bkt := tx.Bucket(buc)
		if bkt == nil {
			return storage.ErrNotFound
		}
		data := bkt.Get(k)
		if len(data) == 0 {
			return storage.ErrNotFound
		}
		ret = make([]byte, len(data))
		copy(ret, data)
		return nil
	}); err != nil {
		return nil, err
	}
	return ret, nil
}

// Delete deletes a key. Returns storage.ErrNotFound if the key does not
// exist.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		buc, k, err := boltBucketKey(key)
		if err != nil {
			return err
		}
		bkt := tx.Bucket(buc)
		if bkt == nil {
			return storage.ErrNotFound
		}
		if len(bkt.Get(k)) == 0 {
			return storage.ErrNotFound
		}
		return bkt.Delete(k)
	})
}
