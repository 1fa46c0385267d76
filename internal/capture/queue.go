package capture

import "sync/atomic"

// DefaultQueueSize keeps at most two frames between capture and the consumer
const DefaultQueueSize = 2

// FrameQueue is a bounded FIFO that evicts the oldest frame instead of blocking.
// It supports one producer and any number of consumers.
type FrameQueue struct {
	frames  chan *Frame
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &FrameQueue{frames: make(chan *Frame, capacity)}
}

// Push adds a frame, evicting the oldest one when full. It never blocks and
// reports false when the frame had to be skipped because a concurrent
// consumer raced the eviction.
func (q *FrameQueue) Push(frame *Frame) bool {
	select {
	case q.frames <- frame:
		return true
	default:
	}

	select {
	case <-q.frames:
		q.dropped.Add(1)
	default:
	}

	select {
	case q.frames <- frame:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// TryPop returns the oldest buffered frame without blocking
func (q *FrameQueue) TryPop() (*Frame, bool) {
	select {
	case frame := <-q.frames:
		return frame, true
	default:
		return nil, false
	}
}

// Len returns the number of buffered frames
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity
func (q *FrameQueue) Cap() int {
	return cap(q.frames)
}

// Dropped returns the number of frames evicted or skipped so far
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
