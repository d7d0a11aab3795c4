// Package queue serializes work that shares a key, such as imagemage runs
// writing to the same output file.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyLaneID is returned when Do is called with an empty lane ID.
var ErrEmptyLaneID = errors.New("queue: lane ID must not be empty")

// workItem is a unit of work submitted to a lane.
type workItem struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// lane processes work items sequentially via a single goroutine.
type lane struct {
	work    chan workItem
	pending int // submitted but not yet finished; guarded by LaneQueue.mu
}

// defaultLaneBufferSize is the capacity of each lane's work channel.
// Tests in this package may override it to exercise full-buffer paths.
var defaultLaneBufferSize = 64

// LaneQueue serializes work per lane. Different lanes execute concurrently,
// work within one lane runs in FIFO order. A lane's worker goroutine exits
// once the lane drains, so keys that are used once do not accumulate.
type LaneQueue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// NewLaneQueue creates a new LaneQueue ready for use.
func NewLaneQueue() *LaneQueue {
	return &LaneQueue{lanes: make(map[string]*lane)}
}

// Do executes fn serially within the given lane. It blocks until the work
// completes or the context is cancelled. Returns the error from fn, or
// ctx.Err() if the context is cancelled while waiting. Work whose context
// is cancelled before its turn is skipped.
func (q *LaneQueue) Do(ctx context.Context, laneID string, fn func() error) error {
	if laneID == "" {
		return ErrEmptyLaneID
	}

	l := q.acquire(laneID)
	item := workItem{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case l.work <- item:
	case <-ctx.Done():
		if q.release(laneID, l) {
			close(l.work)
		}
		return ctx.Err()
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire returns the lane for laneID with one more pending reference,
// starting its worker if the lane is new.
func (q *LaneQueue) acquire(laneID string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[laneID]
	if !ok {
		l = &lane{work: make(chan workItem, defaultLaneBufferSize)}
		q.lanes[laneID] = l
		go q.run(laneID, l)
	}
	l.pending++
	return l
}

// release drops one pending reference. It reports true, after removing the
// lane, when none remain.
func (q *LaneQueue) release(laneID string, l *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	l.pending--
	if l.pending > 0 {
		return false
	}
	delete(q.lanes, laneID)
	return true
}

// run is the lane's worker loop.
func (q *LaneQueue) run(laneID string, l *lane) {
	for item := range l.work {
		if err := item.ctx.Err(); err != nil {
			item.done <- err
		} else {
			item.done <- safeExec(item.fn)
		}
		if q.release(laneID, l) {
			return
		}
	}
}

// safeExec runs fn and recovers from panics, converting them to errors.
func safeExec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn()
}

// LaneCount returns the number of active lanes.
func (q *LaneQueue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
