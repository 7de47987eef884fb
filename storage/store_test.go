package storage_test

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/fabrik/fabrik/storage"
	"github.com/fabrik/fabrik/storage/kvbackend"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func newStore(t *testing.T) (*storage.Store, func()) {
	t.Helper()
	tmp, err := ioutil.TempFile("", "fabrik-test")
	if err != nil {
		t.Fatal(err)
	}
	if err = tmp.Close(); err != nil {
		t.Fatal(err)
	}
	db, err := kvbackend.NewBoltWithFile(tmp.Name())
	if err != nil {
		t.Fatal(err)
	}
	done := func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
		if err := os.Remove(tmp.Name()); err != nil {
			t.Errorf("remove db file: %v", err)
		}
	}
	return &storage.Store{Backend: db}, done
}

func TestStore_roundTrip(t *testing.T) {
	store, done := newStore(t)
	defer done()
	ctx := context.Background()

	want := storage.Snapshot{
		Project:   "demo",
		Hash:      "d0d519cf86438832",
		Template:  []byte(`{"Resources":{}}`),
		CreatedAt: time.Date(2019, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "demo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(*got, want); diff != "" {
		t.Errorf("Get() (-got, +want)\n%s", diff)
	}
}

func TestStore_replace(t *testing.T) {
	store, done := newStore(t)
	defer done()
	ctx := context.Background()

	first := storage.Snapshot{Project: "demo", Hash: "aaaa", Template: []byte(`{}`)}
	second := storage.Snapshot{Project: "demo", Hash: "bbbb", Template: []byte(`{}`)}
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "demo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Hash != "bbbb" {
		t.Errorf("Get() hash = %q, want bbbb", got.Hash)
	}
}

func TestStore_notFound(t *testing.T) {
	store, done := newStore(t)
	defer done()
	ctx := context.Background()

	_, err := store.Get(ctx, "nonexistent")
	if errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	if err := store.Delete(ctx, "nonexistent"); errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_delete(t *testing.T) {
	store, done := newStore(t)
	defer done()
	ctx := context.Background()

	snap := storage.Snapshot{Project: "demo", Hash: "aaaa", Template: []byte(`{}`)}
	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "demo"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "demo"); errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_noProject(t *testing.T) {
	store, done := newStore(t)
	defer done()
	if err := store.Put(context.Background(), storage.Snapshot{}); err == nil {
		t.Errorf("Put() error = nil, want error for missing project")
	}
}
