// Package hasher is the single-threaded hashing worker: one goroutine
// drains a priority-tagged FIFO job queue and posts Verified/Failed/
// FullHashed/FatalError events back to whatever is draining its Events
// channel (normally the partdata event loop). It is grounded on the
// teacher's threadgroup-gated background worker pattern: a dedicated
// goroutine registered with a threadgroup.ThreadGroup so Stop can cleanly
// drain it instead of leaking a goroutine on shutdown.
package hasher

import (
	"io"
	"sync"

	"github.com/NebulousLabs/threadgroup"

	"gitlab.com/hydranode/hydracore/filehash"
)

// defaultChunkReadSize bounds how much of a full-file job's reader is
// consumed between valid-flag checks, giving cancellation a chunk-sized
// granularity even though the job's own logical "chunk" (per its
// chunkSize) may be much larger.
const defaultChunkReadSize = 64 * 1024

// Hasher is a single-threaded hashing worker with a bounded, priority-
// ordered FIFO job queue. The zero value is not usable; construct with
// New.
type Hasher struct {
	mu         sync.Mutex
	cond       *sync.Cond
	highQueue  []*Job // PriorityChunkVerify
	lowQueue   []*Job // PriorityFullFile
	queueDepth int
	pauseCount int
	nextJobID  uint64
	stopped    bool

	events chan Event
	tg     threadgroup.ThreadGroup
}

// New returns a Hasher with the given bounded queue depth (total jobs
// across both priorities) and event channel buffer size, and starts its
// worker goroutine.
func New(queueDepth, eventBuffer int) *Hasher {
	h := &Hasher{
		queueDepth: queueDepth,
		events:     make(chan Event, eventBuffer),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.run()
	return h
}

// Events returns the channel the worker posts results to. Callers should
// keep draining it; a full events buffer stalls the worker mid-job. The
// channel is closed once Stop has shut the worker down.
func (h *Hasher) Events() <-chan Event {
	return h.events
}

// depth returns the total number of queued jobs. Caller must hold h.mu.
func (h *Hasher) depth() int {
	return len(h.highQueue) + len(h.lowQueue)
}

// Submit enqueues job, blocking until a slot is free (queueDepth<=0 means
// unbounded). Returns ErrStopped if the worker has already shut down.
func (h *Hasher) Submit(job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.queueDepth > 0 && h.depth() >= h.queueDepth && !h.stopped {
		h.cond.Wait()
	}
	if h.stopped {
		return ErrStopped
	}
	h.enqueue(job)
	return nil
}

// TrySubmit enqueues job without blocking, returning ErrBusy if the queue
// is at its bound, or ErrStopped if the worker has shut down.
func (h *Hasher) TrySubmit(job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrStopped
	}
	if h.queueDepth > 0 && h.depth() >= h.queueDepth {
		return ErrBusy
	}
	h.enqueue(job)
	return nil
}

// enqueue assigns job a sequence number (preserving submission order
// within its priority for the FIFO-per-file guarantee) and wakes the
// worker. Caller must hold h.mu.
func (h *Hasher) enqueue(job *Job) {
	h.nextJobID++
	job.id = h.nextJobID
	switch job.priority {
	case PriorityChunkVerify:
		h.highQueue = append(h.highQueue, job)
	default:
		h.lowQueue = append(h.lowQueue, job)
	}
	h.cond.Signal()
}

// PauseToken is a scope-acquired handle that keeps the worker idle until
// Release is called. Nested tokens compose: the worker resumes only once
// every outstanding token has been released.
type PauseToken struct {
	h *Hasher
}

// Pause increments the worker's pause depth and returns a token; the
// worker finishes any job already in flight, then waits. Pause does not
// block the caller.
func (h *Hasher) Pause() *PauseToken {
	h.mu.Lock()
	h.pauseCount++
	h.mu.Unlock()
	return &PauseToken{h: h}
}

// Release decrements the pause depth; once it reaches zero the worker
// resumes draining the queue. Calling Release more than once on the same
// token is a no-op after the first call.
func (t *PauseToken) Release() {
	if t.h == nil {
		return
	}
	t.h.mu.Lock()
	if t.h.pauseCount > 0 {
		t.h.pauseCount--
	}
	if t.h.pauseCount == 0 {
		t.h.cond.Broadcast()
	}
	t.h.mu.Unlock()
	t.h = nil
}

// Stop drains and shuts down the worker goroutine, waking anything
// blocked in Submit with ErrStopped. It blocks until the worker has
// exited, then closes the Events channel.
func (h *Hasher) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.cond.Broadcast()
	h.mu.Unlock()
	err := h.tg.Stop()
	if err == nil {
		close(h.events)
	}
	return err
}

// run is the worker goroutine body: pop the highest-priority head job,
// skip it silently if invalidated, otherwise execute it and post the
// resulting Event.
func (h *Hasher) run() {
	if err := h.tg.Add(); err != nil {
		return
	}
	defer h.tg.Done()

	for {
		job, ok := h.next()
		if !ok {
			return
		}
		if !job.isValid() {
			continue
		}
		h.execute(job)
	}
}

// next blocks until a job is available, the worker is unpaused, and
// Stop has not been called; it returns ok=false once stopped with an
// empty queue.
func (h *Hasher) next() (*Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if h.stopped && h.depth() == 0 {
			return nil, false
		}
		if h.pauseCount == 0 && h.depth() > 0 {
			break
		}
		h.cond.Wait()
	}
	var job *Job
	if len(h.highQueue) > 0 {
		job, h.highQueue = h.highQueue[0], h.highQueue[1:]
	} else {
		job, h.lowQueue = h.lowQueue[0], h.lowQueue[1:]
	}
	h.cond.Broadcast() // wake any Submit waiting on queue depth
	return job, true
}

// execute runs one job to completion (or to its first invalidated chunk
// boundary) and posts the resulting Event, if any.
func (h *Hasher) execute(job *Job) {
	switch job.kind {
	case KindChunkVerify:
		h.executeChunkVerify(job)
	case KindFullFile:
		h.executeFullFile(job)
	}
}

func (h *Hasher) executeChunkVerify(job *Job) {
	tr, err := filehash.NewTransform(plainAlgOf(job.expected.Alg))
	if err != nil {
		h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "unsupported-alg", Message: err.Error()})
		return
	}
	if err := tr.Update(job.data); err != nil {
		h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "hash-update", Message: err.Error()})
		return
	}
	sum, err := tr.Finalize()
	if err != nil {
		h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "hash-finalize", Message: err.Error()})
		return
	}
	if !job.isValid() {
		return
	}
	if sum.Equal(job.expected) {
		h.post(Event{Kind: EventVerified, JobID: job.id, FileID: job.fileID, ChunkIndex: job.chunkIndex, Range: job.rng, ChunkHash: sum})
	} else {
		h.post(Event{Kind: EventFailed, JobID: job.id, FileID: job.fileID, ChunkIndex: job.chunkIndex, Range: job.rng, ChunkHash: sum})
	}
}

func (h *Hasher) executeFullFile(job *Job) {
	maker, err := filehash.NewHashSetMaker(job.scheme, job.chunkSize)
	if err != nil {
		h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "unsupported-alg", Message: err.Error()})
		return
	}
	buf := make([]byte, defaultChunkReadSize)
	for {
		if !job.isValid() {
			return
		}
		n, err := job.reader.Read(buf)
		if n > 0 {
			if uerr := maker.Update(buf[:n]); uerr != nil {
				h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "hash-update", Message: uerr.Error()})
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "read", Message: err.Error()})
			return
		}
	}
	if !job.isValid() {
		return
	}
	hs, err := maker.Finalize()
	if err != nil {
		h.post(Event{Kind: EventFatalError, JobID: job.id, FileID: job.fileID, ErrKind: "hash-finalize", Message: err.Error()})
		return
	}
	h.post(Event{Kind: EventFullHashed, JobID: job.id, FileID: job.fileID, HashSet: hs})
}

// post delivers ev to the Events channel, blocking the worker if the
// consumer has fallen behind - the same backpressure the teacher's
// bounded-channel worker patterns rely on instead of an unbounded buffer.
func (h *Hasher) post(ev Event) {
	h.events <- ev
}

// plainAlgOf maps a chunk hash's own algorithm tag back onto itself; chunk
// hashes are always plain (non-composite) algorithms, so this exists
// purely to make the call site at executeChunkVerify read as "the
// algorithm this particular hash was computed with" rather than a magic
// pass-through.
func plainAlgOf(a filehash.Alg) filehash.Alg {
	return a
}
