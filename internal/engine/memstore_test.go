package engine

import (
	"context"
	"os"
	"testing"
)

func newTestMemStore(t *testing.T) *MemStore {
	t.Helper()
	dir := t.TempDir()
	return NewMemStore(dir)
}

func TestMemStore_CreateIdempotence(t *testing.T) {
	s := newTestMemStore(t)
	ctx := context.Background()

	r := &Request{RequestID: "r1", Name: "launch", Entrypoint: "cluster.launch", Status: StatusPending}
	created, err := s.CreateIfNotExists(ctx, r)
	if err != nil || !created {
		t.Fatalf("first CreateIfNotExists: created=%v err=%v, want true, nil", created, err)
	}

	if _, err := os.Stat(r.LogPath); err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	dup := &Request{RequestID: "r1", Name: "launch-again", Entrypoint: "cluster.launch", Status: StatusPending}
	created, err = s.CreateIfNotExists(ctx, dup)
	if err != nil || created {
		t.Fatalf("duplicate CreateIfNotExists: created=%v err=%v, want false, nil", created, err)
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "launch" {
		t.Fatalf("stored record overwritten by duplicate create: Name = %q, want %q", got.Name, "launch")
	}
}

func TestMemStore_GetNotFound(t *testing.T) {
	s := newTestMemStore(t)
	if _, err := s.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemStore_UpdateTransitionsAndList(t *testing.T) {
	s := newTestMemStore(t)
	ctx := context.Background()

	r := &Request{RequestID: "r1", Status: StatusPending}
	if _, err := s.CreateIfNotExists(ctx, r); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}

	updated, err := s.Update(ctx, "r1", func(rec *Request) {
		rec.Status = StatusRunning
		rec.PID = 4242
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusRunning || updated.PID != 4242 {
		t.Fatalf("updated = %+v, want RUNNING with pid 4242", updated)
	}

	running, err := s.List(ctx, StatusRunning)
	if err != nil || len(running) != 1 {
		t.Fatalf("List(RUNNING) = %v, %v, want 1 record", running, err)
	}

	if _, err := s.Update(ctx, "missing", func(*Request) {}); err != ErrNotFound {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemStore_ListAllWhenNoFilter(t *testing.T) {
	s := newTestMemStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateIfNotExists(ctx, &Request{RequestID: id, Status: StatusPending}); err != nil {
			t.Fatalf("CreateIfNotExists(%s): %v", id, err)
		}
	}

	all, err := s.List(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("List() = %v, %v, want 3 records", all, err)
	}
}
