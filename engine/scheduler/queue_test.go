package scheduler

import (
	"testing"
	"time"
)

func TestQueuePopDueBatchOnlyTakesDueAndWindowed(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Push(&Task{Code: "due-1", NextCheck: now.Add(-time.Minute), SubmitTime: now})
	q.Push(&Task{Code: "due-2", NextCheck: now.Add(-time.Second), SubmitTime: now})
	q.Push(&Task{Code: "near", NextCheck: now.Add(10 * time.Second), SubmitTime: now})
	q.Push(&Task{Code: "far", NextCheck: now.Add(time.Hour), SubmitTime: now})

	batch := q.PopDueBatch(now, 1, 30*time.Second)
	if len(batch) != 3 {
		t.Fatalf("len(batch) = %d, want 3 (2 due + 1 extra within window)", len(batch))
	}
	if q.Len() != 1 {
		t.Fatalf("remaining queue len = %d, want 1", q.Len())
	}
	if q.Peek().Code != "far" {
		t.Fatalf("remaining = %q, want far", q.Peek().Code)
	}
}

func TestQueuePushReplacesExistingCode(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Push(&Task{Code: "A", NextCheck: now, SubmitTime: now})
	q.Push(&Task{Code: "A", NextCheck: now.Add(time.Minute), SubmitTime: now})

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Push(&Task{Code: "A", NextCheck: now, SubmitTime: now})
	q.Remove("A")
	if q.Has("A") {
		t.Fatalf("A still present after Remove")
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
}
