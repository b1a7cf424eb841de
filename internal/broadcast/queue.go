package broadcast

import (
	"errors"
	"sync"

	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/wire"
)

// FrameWriter is the transport a queue drains into. The websocket adapter
// lives in the api package; tests substitute an in-memory writer.
type FrameWriter interface {
	WriteBinary(data []byte) error
	Close() error
}

// Frame is one encoded outbound frame queued for a session.
type Frame struct {
	Tick domain.WorldTick
	Kind wire.FrameKind
	Data []byte
}

// ErrSlowConsumer means a session's critical side channel hit its cap. The
// session must be closed rather than silently losing a critical frame.
var ErrSlowConsumer = errors.New("critical channel full, consumer too slow")

// Queue is one session's outbound path. World-sync frames share a bounded
// queue with drop-oldest backpressure: each delta supersedes the last, so
// dropping the oldest loses nothing a fresher frame does not replace.
// Critical frames ride a separate capped side channel and are never
// dropped. Within each channel frames leave in the order they arrived, so
// per-session delivery is tick-ordered.
type Queue struct {
	mu          sync.Mutex
	frames      []Frame
	critical    []Frame
	capacity    int
	criticalCap int
	dropped     uint64
	closed      bool
	draining    bool

	wake    chan struct{}
	drained chan struct{}
	writer  FrameWriter
	onError func(error)
}

// NewQueue creates a queue over a transport. onError fires once, from the
// pump goroutine, when a write fails or the consumer proves too slow; the
// owner is expected to close the session.
func NewQueue(w FrameWriter, capacity, criticalCap int, onError func(error)) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if criticalCap < 1 {
		criticalCap = 1
	}
	q := &Queue{
		frames:      make([]Frame, 0, capacity),
		capacity:    capacity,
		criticalCap: criticalCap,
		wake:        make(chan struct{}, 1),
		drained:     make(chan struct{}),
		writer:      w,
		onError:     onError,
	}
	go q.pump()
	return q
}

// Enqueue adds a frame, applying backpressure policy. Critical frames are
// never dropped; a full critical channel reports ErrSlowConsumer instead.
func (q *Queue) Enqueue(f Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	if f.Kind.Critical() {
		if len(q.critical) >= q.criticalCap {
			q.mu.Unlock()
			return ErrSlowConsumer
		}
		q.critical = append(q.critical, f)
	} else {
		if len(q.frames) >= q.capacity {
			// Oldest world frame is superseded by this fresher one.
			copy(q.frames, q.frames[1:])
			q.frames = q.frames[:len(q.frames)-1]
			q.dropped++
		}
		q.frames = append(q.frames, f)
	}
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dropped returns how many non-critical frames backpressure discarded.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Depth returns the current regular and critical queue depths.
func (q *Queue) Depth() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames), len(q.critical)
}

// Drain stops accepting new world frames and lets the pump flush what is
// queued. Drained is closed once the queue empties.
func (q *Queue) Drain() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	q.signal()
}

// Drained is closed once a draining queue has flushed all queued frames.
func (q *Queue) Drained() <-chan struct{} { return q.drained }

// Close tears the queue down immediately, discarding anything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.frames = nil
	q.critical = nil
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the next frame to send. Critical frames go first; world
// frames keep their own FIFO order, so each channel stays tick-ordered.
func (q *Queue) pop() (Frame, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Frame{}, false, true
	}
	if len(q.critical) > 0 {
		f := q.critical[0]
		copy(q.critical, q.critical[1:])
		q.critical = q.critical[:len(q.critical)-1]
		return f, true, false
	}
	if len(q.frames) > 0 {
		f := q.frames[0]
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		return f, true, false
	}
	if q.draining {
		return Frame{}, false, true
	}
	return Frame{}, false, false
}

func (q *Queue) pump() {
	defer func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.drained)
		_ = q.writer.Close()
	}()

	for {
		f, ok, done := q.pop()
		if done {
			return
		}
		if !ok {
			<-q.wake
			continue
		}
		if err := q.writer.WriteBinary(f.Data); err != nil {
			if q.onError != nil {
				q.onError(err)
			}
			return
		}
	}
}
