// Package storage persists synthesized template snapshots so that the
// shell can diff a new synthesis against what was last deployed.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// The KVBackend is used for persisting key-value data.
type KVBackend interface {
	// Put creates or updates a key.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the given key. Returns ErrNotFound if the given key does
	// not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete deletes a key. Returns ErrNotFound if the given key does not
	// exist.
	Delete(ctx context.Context, key string) error
}

// A Snapshot records one synthesized template for a project.
type Snapshot struct {
	Project   string          `json:"project"`
	Hash      string          `json:"hash"`
	Template  json.RawMessage `json:"template"`
	CreatedAt time.Time       `json:"created_at"`
}

// A Store keeps the last deployed snapshot per project.
type Store struct {
	Backend KVBackend
}

func key(project string) string {
	return "snapshots/" + project
}

// Put stores a snapshot, replacing any previous snapshot for the project.
func (s *Store) Put(ctx context.Context, snap Snapshot) error {
	if snap.Project == "" {
		return errors.New("snapshot has no project")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return s.Backend.Put(ctx, key(snap.Project), data)
}

// Get returns the snapshot for a project. Returns ErrNotFound if the
// project has no stored snapshot.
func (s *Store) Get(ctx context.Context, project string) (*Snapshot, error) {
	data, err := s.Backend.Get(ctx, key(project))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

// Delete removes the snapshot for a project.
func (s *Store) Delete(ctx context.Context, project string) error {
	return s.Backend.Delete(ctx, key(project))
}
