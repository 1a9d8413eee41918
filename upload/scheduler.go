// Package upload implements the fair per-peer upload admission scheduler:
// a waiting queue of peers ranked by credit, admitted into a fixed number
// of slots, with hysteresis to stop an admitted peer from being evicted by
// every passing rank change. Grounded on spec.md §4.8 and the teacher's
// rarity/weight-table idiom (modules/renter/hostdb's scored ranking), using
// container/heap for the top-k selection and fastrand for the random
// tie-break spec.md calls for.
package upload

import (
	"container/heap"
	"math"
	"sort"
	"sync"

	"gitlab.com/NebulousLabs/fastrand"
)

// Peer tracks one remote peer's credit inputs and current slot membership
// within a Scheduler. A Peer is only ever mutated through its owning
// Scheduler's methods.
type Peer struct {
	ID string

	bytesSent     uint64 // bytes we have sent this peer
	bytesReceived uint64 // bytes this peer has sent us

	active bool
	jitter uint64 // re-rolled on each Rerank; breaks exact credit ties
}

// BytesSent returns how many bytes we have sent this peer.
func (p *Peer) BytesSent() uint64 { return p.bytesSent }

// BytesReceived returns how many bytes this peer has sent us.
func (p *Peer) BytesReceived() uint64 { return p.bytesReceived }

// Active reports whether p currently holds an upload slot.
func (p *Peer) Active() bool { return p.active }

// Credit scores a peer for admission ranking. It is monotone increasing in
// bytesReceived and penalises one-sidedness: a peer we have sent far more
// than it has sent us scores low even if its absolute bytesReceived is
// nonzero, per spec.md §4.8's "f monotone in bytes_peer_sent_us, penalising
// one-sidedness" rule.
func (p *Peer) Credit() float64 {
	return float64(p.bytesReceived) - float64(p.bytesSent)
}

func (p *Peer) ranksAbove(other *Peer) bool {
	if p.Credit() != other.Credit() {
		return p.Credit() > other.Credit()
	}
	return p.jitter > other.jitter
}

// Scheduler admits peers into a fixed number of upload slots, ranked by
// Credit with a random tie-break, and re-ranks on demand (the caller drives
// re-ranking from its own event loop - spec.md §5's single-main-thread
// model - rather than Scheduler running its own ticker).
type Scheduler struct {
	mu sync.Mutex

	slots      int
	hysteresis float64

	waiting map[string]*Peer
	active  map[string]*Peer
}

// New returns a Scheduler admitting up to slots peers at once. hysteresis
// is the credit margin an active peer must fall behind the best waiting
// peer by before it is evicted; spec.md §4.8 requires this margin so a
// slot does not flap on every minor credit change.
func New(slots int, hysteresis float64) *Scheduler {
	return &Scheduler{
		slots:      slots,
		hysteresis: hysteresis,
		waiting:    make(map[string]*Peer),
		active:     make(map[string]*Peer),
	}
}

// Enqueue adds peerID to the waiting queue. Returns ErrAlreadyQueued if the
// peer already holds a waiting or active slot.
func (s *Scheduler) Enqueue(peerID string) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waiting[peerID]; ok {
		return nil, ErrAlreadyQueued
	}
	if _, ok := s.active[peerID]; ok {
		return nil, ErrAlreadyQueued
	}
	p := &Peer{ID: peerID, jitter: fastrand.Uint64n(math.MaxUint64)}
	s.waiting[peerID] = p
	return p, nil
}

// Dequeue removes peerID from the scheduler entirely (peer disconnected),
// freeing its slot if it held one.
func (s *Scheduler) Dequeue(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waiting[peerID]; ok {
		delete(s.waiting, peerID)
		return nil
	}
	if _, ok := s.active[peerID]; ok {
		delete(s.active, peerID)
		return nil
	}
	return ErrNotQueued
}

// Complete marks peerID's upload as finished, freeing its active slot.
func (s *Scheduler) Complete(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[peerID]; !ok {
		return ErrNotQueued
	}
	delete(s.active, peerID)
	return nil
}

// UpdateCredit records bytes transferred in either direction with peerID,
// updating its credit score for the next Rerank.
func (s *Scheduler) UpdateCredit(peerID string, bytesSent, bytesReceived uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.waiting[peerID]
	if !ok {
		p, ok = s.active[peerID]
	}
	if !ok {
		return ErrNotQueued
	}
	p.bytesSent += bytesSent
	p.bytesReceived += bytesReceived
	return nil
}

// Rerank fills any empty slots from the waiting queue (top-k by credit,
// selected via a bounded min-heap) and then, slot by slot, evicts an
// active peer whose credit has fallen behind the best waiting peer's by
// more than the configured hysteresis margin. Call on a fixed cadence and
// after any enqueue/credit-update event, per spec.md §4.8.
func (s *Scheduler) Rerank() (promoted, demoted []*Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.waiting {
		p.jitter = fastrand.Uint64n(math.MaxUint64)
	}

	if free := s.slots - len(s.active); free > 0 && len(s.waiting) > 0 {
		for _, p := range s.topKWaitingLocked(free) {
			delete(s.waiting, p.ID)
			p.active = true
			s.active[p.ID] = p
			promoted = append(promoted, p)
		}
	}

	for len(s.active) >= s.slots && s.slots > 0 {
		worst := s.worstActiveLocked()
		best := s.bestWaitingLocked()
		if worst == nil || best == nil || !best.ranksAbove(worst) {
			break
		}
		if worst.Credit() >= best.Credit()-s.hysteresis {
			break
		}
		delete(s.active, worst.ID)
		worst.active = false
		s.waiting[worst.ID] = worst
		demoted = append(demoted, worst)

		delete(s.waiting, best.ID)
		best.active = true
		s.active[best.ID] = best
		promoted = append(promoted, best)
	}
	return promoted, demoted
}

// topKWaitingLocked returns up to k waiting peers ranked highest by
// ranksAbove, using a bounded min-heap so selection costs O(n log k)
// rather than a full sort of the waiting queue.
func (s *Scheduler) topKWaitingLocked(k int) []*Peer {
	h := &peerMinHeap{}
	heap.Init(h)
	for _, p := range s.waiting {
		if h.Len() < k {
			heap.Push(h, p)
			continue
		}
		if p.ranksAbove((*h)[0]) {
			heap.Pop(h)
			heap.Push(h, p)
		}
	}
	out := make([]*Peer, len(*h))
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return out[i].ranksAbove(out[j]) })
	return out
}

func (s *Scheduler) bestWaitingLocked() *Peer {
	var best *Peer
	for _, p := range s.waiting {
		if best == nil || p.ranksAbove(best) {
			best = p
		}
	}
	return best
}

func (s *Scheduler) worstActiveLocked() *Peer {
	var worst *Peer
	for _, p := range s.active {
		if worst == nil || worst.ranksAbove(p) {
			worst = p
		}
	}
	return worst
}

// ActivePeers returns the peers currently holding an upload slot, highest
// credit first.
func (s *Scheduler) ActivePeers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ranksAbove(out[j]) })
	return out
}

// WaitingPeers returns the peers currently in the waiting queue, highest
// credit first.
func (s *Scheduler) WaitingPeers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.waiting))
	for _, p := range s.waiting {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ranksAbove(out[j]) })
	return out
}

// peerMinHeap orders by ranksAbove ascending (the worst-ranked peer is the
// root), so repeatedly evicting the root while pushing candidates leaves
// the top-k surviving.
type peerMinHeap []*Peer

func (h peerMinHeap) Len() int            { return len(h) }
func (h peerMinHeap) Less(i, j int) bool  { return h[j].ranksAbove(h[i]) }
func (h peerMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *peerMinHeap) Push(x interface{}) { *h = append(*h, x.(*Peer)) }
func (h *peerMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}
