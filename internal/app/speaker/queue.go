package speaker

import "sync"

// MaxFrameBytes is the payload capacity of a single frame.
const MaxFrameBytes = 1024

// Frame is a fixed-size chunk of PCM data moved through the FrameQueue.
// When Stop is set the frame is a sentinel and Len/Data are ignored.
type Frame struct {
	Stop bool
	Len  int
	Data [MaxFrameBytes]byte
}

// Payload returns the valid part of the frame data.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// FrameQueue is a fixed-capacity FIFO of frames shared by one producer and one
// consumer. Normal frames are appended at the back without blocking; stop
// sentinels are inserted at the front so they overtake any backlog.
type FrameQueue struct {
	mu    sync.Mutex
	buf   []Frame
	head  int
	count int
	ready chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{
		buf:   make([]Frame, capacity),
		ready: make(chan struct{}, 1),
	}
}

// TryPush appends f at the back. It returns false when the queue is full.
func (q *FrameQueue) TryPush(f *Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = *f
	q.count++
	q.signal()
	return true
}

// PushFront inserts f ahead of every queued frame. It never fails: when the
// queue is full the newest frame is dropped to make room. The consumer
// discards everything queued behind a stop sentinel.
func (q *FrameQueue) PushFront(f *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		q.count--
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = *f
	q.count++
	q.signal()
}

// TryPop removes the front frame into dst. It returns false when empty.
func (q *FrameQueue) TryPop(dst *Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return false
	}
	*dst = q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return true
}

// StopPending reports whether the front frame is a stop sentinel.
func (q *FrameQueue) StopPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count > 0 && q.buf[q.head].Stop
}

// Discard drops every queued frame and returns how many were dropped.
func (q *FrameQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	q.head = 0
	q.count = 0
	return n
}

// DiscardStops removes stop sentinels that no consumer is left to read,
// keeping data frames in order.
func (q *FrameQueue) DiscardStops() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := 0
	dropped := 0
	for i := 0; i < q.count; i++ {
		f := q.buf[(q.head+i)%len(q.buf)]
		if f.Stop {
			dropped++
			continue
		}
		q.buf[(q.head+kept)%len(q.buf)] = f
		kept++
	}
	q.count = kept
	return dropped
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return len(q.buf)
}

// Ready returns a channel that receives after a push. It is a wakeup hint
// only; the consumer must still call TryPop.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

// signal must be called with q.mu held.
func (q *FrameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
