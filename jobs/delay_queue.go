package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/concore-go/concore/core"
)

// delayedItem is a task scheduled for the future, destined for a specific
// TaskRunner once its delay expires.
type delayedItem struct {
	runAt  time.Time
	task   core.Task
	traits core.TaskTraits
	target core.TaskRunner
	index  int
}

type delayedItemHeap []*delayedItem

func (h delayedItemHeap) Len() int           { return len(h) }
func (h delayedItemHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedItemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedItemHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedItem)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedItemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedItemHeap) Peek() *delayedItem {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayQueue is a single-goroutine min-heap timer: jobs post here to be
// handed to their target TaskRunner once their delay has elapsed.
type DelayQueue struct {
	pq     delayedItemHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayQueue() *DelayQueue {
	ctx, cancel := context.WithCancel(context.Background())
	dq := &DelayQueue{
		pq:     make(delayedItemHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dq.pq)
	go dq.loop()
	return dq
}

func (dq *DelayQueue) AddDelayedTask(task core.Task, delay time.Duration, traits core.TaskTraits, target core.TaskRunner) {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	item := &delayedItem{
		runAt:  time.Now().Add(delay),
		task:   task,
		traits: traits,
		target: target,
	}
	heap.Push(&dq.pq, item)

	if item.index == 0 {
		select {
		case dq.wakeup <- struct{}{}:
		default:
		}
	}
}

func (dq *DelayQueue) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, hasItem := dq.calculateNextRun()
		switch {
		case !hasItem:
			nextRun = 1000 * time.Hour
		case nextRun <= 0:
			nextRun = time.Nanosecond
		}
		timer.Reset(nextRun)

		select {
		case <-dq.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dq.processExpired()
		case <-dq.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun reports how long until the earliest queued item is due,
// and whether there is an item at all. A due-or-overdue item reports a
// non-positive duration rather than being conflated with the empty case, so
// the loop fires on it immediately instead of parking for the empty-queue
// fallback.
func (dq *DelayQueue) calculateNextRun() (time.Duration, bool) {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	item := dq.pq.Peek()
	if item == nil {
		return 0, false
	}
	return item.runAt.Sub(time.Now()), true
}

func (dq *DelayQueue) processExpired() {
	dq.mu.Lock()
	now := time.Now()
	var expired []*delayedItem
	for dq.pq.Len() > 0 {
		item := dq.pq.Peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&dq.pq)
		expired = append(expired, item)
	}
	dq.mu.Unlock()

	for _, item := range expired {
		item.target.PostTaskWithTraits(item.task, item.traits)
	}
}

func (dq *DelayQueue) Stop() {
	dq.cancel()

	dq.mu.Lock()
	dq.pq = make(delayedItemHeap, 0)
	heap.Init(&dq.pq)
	dq.mu.Unlock()
}

func (dq *DelayQueue) TaskCount() int {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.pq)
}
