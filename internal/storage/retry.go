package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
)

// Writer is the asynchronous side of the persistence gateway. Player
// upserts are queued and flushed off the tick path; failed writes retry
// with exponential backoff. The buffer is bounded: when full, the oldest
// droppable write goes first (a superseded interim score costs nothing),
// but critical writes, like the final score on disconnect, are retried
// until they land or the process shuts down.
type Writer struct {
	store *Store

	mu       sync.Mutex
	queue    []*writeJob
	capacity int
	wake     chan struct{}

	base time.Duration
	max  time.Duration
}

type writeJob struct {
	record    domain.PlayerRecord
	critical  bool
	attempts  int
	notBefore time.Time
}

// NewWriter creates a write-behind queue over the store.
func NewWriter(store *Store, capacity int, base, max time.Duration) *Writer {
	if capacity < 1 {
		capacity = 1
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max < base {
		max = 30 * time.Second
	}
	return &Writer{
		store:    store,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		base:     base,
		max:      max,
	}
}

// Enqueue queues a player upsert. A newer write for the same player
// replaces an older queued one, since keyed upserts supersede each other.
// Returns false if a non-critical write had to be rejected on overflow.
func (w *Writer) Enqueue(rec domain.PlayerRecord, critical bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, job := range w.queue {
		if job.record.PlayerID == rec.PlayerID && !job.critical {
			w.queue[i] = &writeJob{record: rec, critical: critical}
			w.signalLocked()
			return true
		}
	}

	if len(w.queue) >= w.capacity {
		dropped := false
		for i, job := range w.queue {
			if !job.critical {
				w.queue = append(w.queue[:i], w.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			if !critical {
				return false
			}
			// Every queued write is critical; the cap yields to
			// correctness and the queue grows by one.
		}
	}

	w.queue = append(w.queue, &writeJob{record: rec, critical: critical})
	w.signalLocked()
	return true
}

func (w *Writer) signalLocked() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued writes.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run processes the queue until ctx is cancelled, then makes one final
// synchronous attempt to flush critical writes.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushCritical()
			return
		case <-w.wake:
		case <-ticker.C:
		}
		w.processDue(ctx)
	}
}

func (w *Writer) processDue(ctx context.Context) {
	now := time.Now()
	for {
		job := w.popDue(now)
		if job == nil {
			return
		}
		if err := w.store.UpsertPlayer(ctx, &job.record); err != nil {
			job.attempts++
			job.notBefore = now.Add(w.backoff(job.attempts))
			log.Printf("Persistence write for %s failed (attempt %d): %v", job.record.PlayerID, job.attempts, err)
			w.requeue(job)
			return
		}
	}
}

func (w *Writer) popDue(now time.Time) *writeJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, job := range w.queue {
		if job.notBefore.After(now) {
			continue
		}
		w.queue = append(w.queue[:i], w.queue[i+1:]...)
		return job
	}
	return nil
}

func (w *Writer) requeue(job *writeJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, job)
}

func (w *Writer) backoff(attempts int) time.Duration {
	d := w.base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.max {
			return w.max
		}
	}
	return d
}

// flushCritical gives critical writes one last shot during shutdown.
func (w *Writer) flushCritical() {
	w.mu.Lock()
	jobs := w.queue
	w.queue = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, job := range jobs {
		if !job.critical {
			continue
		}
		if err := w.store.UpsertPlayer(ctx, &job.record); err != nil {
			log.Printf("Final flush for %s failed: %v", job.record.PlayerID, err)
		}
	}
}
