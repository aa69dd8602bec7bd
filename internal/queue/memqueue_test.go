package queue

import (
	"context"
	"testing"
)

func TestMemQueue_FIFO(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		el := Element{RequestID: string(rune('a' + i))}
		if err := q.Put(ctx, LaneBlocking, el); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	n, err := q.Len(ctx, LaneBlocking)
	if err != nil || n != 3 {
		t.Fatalf("Len = %d, %v, want 3, nil", n, err)
	}

	for i := 0; i < 3; i++ {
		el, ok, err := q.Get(ctx, LaneBlocking)
		if err != nil || !ok {
			t.Fatalf("Get: %v, ok=%v", err, ok)
		}
		want := string(rune('a' + i))
		if el.RequestID != want {
			t.Fatalf("Get order = %q, want %q (FIFO violated)", el.RequestID, want)
		}
	}

	if _, ok, err := q.Get(ctx, LaneBlocking); err != nil || ok {
		t.Fatalf("Get on empty lane: ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestMemQueue_LaneIsolation(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()

	if err := q.Put(ctx, LaneBlocking, Element{RequestID: "blocking-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := q.Get(ctx, LaneNonBlocking); ok {
		t.Fatal("non-blocking lane should be empty; elements must not cross lanes")
	}

	el, ok, _ := q.Get(ctx, LaneBlocking)
	if !ok || el.RequestID != "blocking-1" {
		t.Fatalf("blocking lane Get = %+v, %v", el, ok)
	}
}
