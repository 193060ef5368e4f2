package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// taskHeap implements heap.Interface over Task, ordered by effective
// priority (descending urgency) with next_check as the tiebreaker.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	// Anti-starvation: every 10s of waiting improves effective priority by 1.
	const agingFactorSeconds = 10.0
	now := time.Now()

	effI := float64(h[i].Priority) + now.Sub(h[i].SubmitTime).Seconds()/agingFactorSeconds
	effJ := float64(h[j].Priority) + now.Sub(h[j].SubmitTime).Seconds()/agingFactorSeconds

	if int(effI) == int(effJ) {
		return h[i].NextCheck.Before(h[j].NextCheck)
	}
	return effI > effJ // higher effective priority pops first
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe priority queue of Task, keyed by code so a code
// never appears twice.
type Queue struct {
	mu    sync.Mutex
	h     taskHeap
	index map[string]*Task
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		h:     make(taskHeap, 0),
		index: make(map[string]*Task),
	}
}

// Push inserts or replaces the task for its code.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.index[t.Code]; ok {
		q.removeLocked(existing)
	}
	heap.Push(&q.h, t)
	q.index[t.Code] = t
}

// Remove drops a code from the queue if present.
func (q *Queue) Remove(code string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.index[code]; ok {
		q.removeLocked(t)
	}
}

func (q *Queue) removeLocked(t *Task) {
	for i, other := range q.h {
		if other == t {
			heap.Remove(&q.h, i)
			break
		}
	}
	delete(q.index, t.Code)
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Has reports whether code is currently queued.
func (q *Queue) Has(code string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[code]
	return ok
}

// PopDueBatch pops every task due at or before now, then up to
// maxExtra additional tasks whose NextCheck falls within window beyond now.
// Returned tasks are removed from the queue.
func (q *Queue) PopDueBatch(now time.Time, maxExtra int, window time.Duration) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []*Task
	for len(q.h) > 0 && !q.h[0].NextCheck.After(now) {
		t := heap.Pop(&q.h).(*Task)
		delete(q.index, t.Code)
		batch = append(batch, t)
	}

	extraDeadline := now.Add(window)
	for extra := 0; extra < maxExtra && len(q.h) > 0; extra++ {
		if q.h[0].NextCheck.After(extraDeadline) {
			break
		}
		t := heap.Pop(&q.h).(*Task)
		delete(q.index, t.Code)
		batch = append(batch, t)
	}
	return batch
}
