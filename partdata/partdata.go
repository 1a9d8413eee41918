// Package partdata implements the per-file completion/verification state
// machine: a PartData tracks which bytes of a file are on disk
// (completed), which of those have passed chunk-hash verification
// (verified), and which have been proven corrupt, and drives the
// UsedRange/LockedRange lease hierarchy that lets many network workers
// write into the same file concurrently without stepping on each other.
// It is grounded on the teacher's coarse-mutex-guarded module style (the
// whole object behind one lock, the way modules/host and modules/wallet
// protect their state) plus the Hydranode original's PartData API shape
// (see original_source/hncore).
package partdata

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gitlab.com/hydranode/hydracore/build"
	"gitlab.com/hydranode/hydracore/filehash"
	"gitlab.com/hydranode/hydracore/hasher"
	"gitlab.com/hydranode/hydracore/leasemon"
	"gitlab.com/hydranode/hydracore/rangeset"
)

// hashSetDistrustThreshold is how many cross-attachment disagreements at
// one chunk size it takes before that chunk size's HashSet is globally
// distrusted and excluded from future verification.
const hashSetDistrustThreshold = 3

// defaultBlameThreshold is the fraction of a failed chunk's bytes a single
// source must have contributed before it's reported as corrupt-suspect.
const defaultBlameThreshold = 0.5

// Config bundles the tunables a PartData needs, gathered into one
// explicit struct per the no-hidden-process-wide-state convention
// (SPEC_FULL.md's runtime.Config) rather than package-level variables.
type Config struct {
	// DefaultChunkSize is used for range leasing before any HashSet is
	// known.
	DefaultChunkSize uint64
	// LockSizeCap bounds how large a single LockedRange's GetLock
	// request is allowed to be, mirroring a protocol's own per-request
	// cap (e.g. 180 kB).
	LockSizeCap uint64
	// UsedRangeChunkCap bounds how many canonical chunks a single
	// GetRange call will span.
	UsedRangeChunkCap int
	// BlameThreshold is the fraction (0,1] of a failed chunk's bytes a
	// single source must have written before being blamed.
	BlameThreshold float64
	// RetryAttempts/RetryBaseDelay govern the disk-write backoff policy.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	// LeaseMaxHold bounds how long a LockedRange may be held before
	// leasemon reports it via build.Severe.
	LeaseMaxHold time.Duration
	// HasherQueueDepth/HasherEventBuffer size the backing Hasher.
	HasherQueueDepth  int
	HasherEventBuffer int
}

// DefaultConfig returns reasonable defaults, matching spec.md's suggested
// figures (180 kB chunk/lock size, 50% blame threshold).
func DefaultConfig() Config {
	return Config{
		DefaultChunkSize:  180 * 1024,
		LockSizeCap:       180 * 1024,
		UsedRangeChunkCap: 4,
		BlameThreshold:    defaultBlameThreshold,
		RetryAttempts:     3,
		RetryBaseDelay:    50 * time.Millisecond,
		LeaseMaxHold:      30 * time.Second,
		HasherQueueDepth:  64,
		HasherEventBuffer: 64,
	}
}

// EventKind tags a PartData-level signal posted to Signals, for FilesList
// (and other observers) to react to without polling state.
type EventKind int

const (
	// EventStateChanged fires whenever State transitions.
	EventStateChanged EventKind = iota
	// EventChunkVerified fires when a chunk passes verification.
	EventChunkVerified
	// EventChunkFailed fires when a chunk fails verification.
	EventChunkFailed
	// EventSourceSuspect fires when a source is blamed for a failed
	// chunk.
	EventSourceSuspect
	// EventHashSetSuspect fires when an attached HashSet disagrees with
	// one already on file.
	EventHashSetSuspect
	// EventFullHashed fires when a full-file hashing job completes.
	EventFullHashed
	// EventComplete fires once verified covers the whole file.
	EventComplete
)

// Event is one PartData-level signal.
type Event struct {
	Kind       EventKind
	State      State
	ChunkIndex int
	Range      rangeset.Range
	SourceID   string
	ChunkSize  uint64
	HashSet    filehash.HashSet
}

// PartData is the central per-file object. The zero value is not usable;
// construct with New.
type PartData struct {
	mu sync.Mutex

	fileID uint64
	size   uint64
	cfg    Config

	completed *rangeset.RangeList
	verified  *rangeset.RangeList
	corrupt   *rangeset.RangeList

	chunkSize   uint64
	chunkStates []chunkStatus
	chunkJobs   map[int]*hasher.Job

	hashSets        []filehash.HashSet
	disagreements   map[uint64]int
	distrustedSizes map[uint64]bool

	avail map[uint64]*availability

	usedRanges      map[uint64]*UsedRange
	lockedCoverage  *rangeset.RangeList
	nextUsedRangeID uint64
	nextLockID      uint64

	// excluded holds byte ranges the container layer (sharedfile's child
	// composition) has asked not to be scheduled by GetRange - e.g. a
	// torrent member the user deselected. Excluded bytes are not treated
	// as downloaded; they're simply skipped when picking new work, so a
	// later IncludeRange call makes them eligible again without any
	// rollback.
	excluded *rangeset.RangeList

	sourceWrites map[int]map[string]uint64

	state      State
	pauseCause PauseCause
	pauseDepth int

	disk       Disk
	tempPath   string
	finalPath  string

	h        *hasher.Hasher
	leaseMon *leasemon.Monitor
	signals  chan Event
}

// New constructs a PartData for a file of the given final size, backed by
// disk for storage. fileID is the stable MetaData identity Hasher jobs
// and events are correlated against.
func New(fileID uint64, size uint64, disk Disk, tempPath, finalPath string, cfg Config) *PartData {
	pd := &PartData{
		fileID:          fileID,
		size:            size,
		cfg:             cfg,
		completed:       rangeset.NewList(),
		verified:        rangeset.NewList(),
		corrupt:         rangeset.NewList(),
		chunkJobs:       make(map[int]*hasher.Job),
		disagreements:   make(map[uint64]int),
		distrustedSizes: make(map[uint64]bool),
		avail:           make(map[uint64]*availability),
		usedRanges:      make(map[uint64]*UsedRange),
		lockedCoverage:  rangeset.NewList(),
		excluded:        rangeset.NewList(),
		sourceWrites:    make(map[int]map[string]uint64),
		state:           StateRunning,
		disk:            disk,
		tempPath:        tempPath,
		finalPath:       finalPath,
		h:               hasher.New(cfg.HasherQueueDepth, cfg.HasherEventBuffer),
		leaseMon:        leasemon.New(cfg.LeaseMaxHold),
		signals:         make(chan Event, 64),
	}
	go pd.eventLoop()
	return pd
}

// Signals returns the channel PartData posts Events to.
func (pd *PartData) Signals() <-chan Event {
	return pd.signals
}

// State returns the current lifecycle state.
func (pd *PartData) State() State {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.state
}

// Size returns the file's final size.
func (pd *PartData) Size() uint64 {
	return pd.size
}

// ChunkSize returns the canonical chunk size currently in effect (0 until
// the first Write, GetRange, lock release or AttachHashSet call).
func (pd *PartData) ChunkSize() uint64 {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.chunkSize
}

func (pd *PartData) setState(s State) {
	if pd.state == s {
		return
	}
	pd.state = s
	pd.emit(Event{Kind: EventStateChanged, State: s})
}

// emit posts ev without blocking the caller's lock for long; the signals
// channel is generously buffered, and a full buffer means the observer
// has fallen far behind, in which case blocking briefly is the correct
// backpressure response (the same policy package hasher uses for its own
// Events channel).
func (pd *PartData) emit(ev Event) {
	pd.signals <- ev
}

func (pd *PartData) chunkCount() int {
	if pd.chunkSize == 0 {
		return 0
	}
	return int((pd.size + pd.chunkSize - 1) / pd.chunkSize)
}

func (pd *PartData) chunkRange(i int) rangeset.Range {
	begin := uint64(i) * pd.chunkSize
	end := begin + pd.chunkSize - 1
	if end > pd.size-1 {
		end = pd.size - 1
	}
	return rangeset.Range{Begin: begin, End: end}
}

func (pd *PartData) ensureChunking() {
	if pd.chunkSize == 0 {
		pd.chunkSize = pd.cfg.DefaultChunkSize
		pd.chunkStates = make([]chunkStatus, pd.chunkCount())
	}
}

// Write is the unconditional low-level write path used during discovery
// and repair: it bypasses the UsedRange/LockedRange lease system
// entirely. Pre: state is running or hashing.
func (pd *PartData) Write(offset uint64, data []byte) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.writeLocked(offset, data, "")
}

func (pd *PartData) writeLocked(offset uint64, data []byte, sourceID string) error {
	if pd.state != StateRunning && pd.state != StateHashing {
		return ErrNotRunning
	}
	if len(data) == 0 {
		return nil
	}
	end := offset + uint64(len(data)) - 1
	if end < offset || end > pd.size-1 {
		return ErrOutOfBounds
	}
	if _, err := pd.disk.WriteAt(data, int64(offset)); err != nil {
		return build.ExtendErr("partdata write failed", err)
	}
	r := rangeset.Range{Begin: offset, End: end}
	if _, err := pd.completed.Merge(r); err != nil {
		return err
	}
	if sourceID != "" {
		pd.recordSourceWrite(r, sourceID)
	}
	pd.ensureChunking()
	pd.advanceChunks(r)
	return nil
}

func (pd *PartData) recordSourceWrite(r rangeset.Range, sourceID string) {
	if pd.chunkSize == 0 {
		return
	}
	startIdx := int(r.Begin / pd.chunkSize)
	endIdx := int(r.End / pd.chunkSize)
	for i := startIdx; i <= endIdx; i++ {
		cr := pd.chunkRange(i)
		overlapBegin, overlapEnd := r.Begin, r.End
		if cr.Begin > overlapBegin {
			overlapBegin = cr.Begin
		}
		if cr.End < overlapEnd {
			overlapEnd = cr.End
		}
		if overlapBegin > overlapEnd {
			continue
		}
		n := overlapEnd - overlapBegin + 1
		if pd.sourceWrites[i] == nil {
			pd.sourceWrites[i] = make(map[string]uint64)
		}
		pd.sourceWrites[i][sourceID] += n
	}
}

func (pd *PartData) advanceChunks(r rangeset.Range) {
	if pd.chunkSize == 0 {
		return
	}
	startIdx := int(r.Begin / pd.chunkSize)
	endIdx := int(r.End / pd.chunkSize)
	for i := startIdx; i <= endIdx; i++ {
		pd.maybeAdvanceChunk(i)
	}
}

func (pd *PartData) maybeAdvanceChunk(i int) {
	if i < 0 || i >= len(pd.chunkStates) {
		return
	}
	if pd.chunkStates[i] == chunkEmpty {
		pd.chunkStates[i] = chunkPartial
	}
	if pd.chunkStates[i] == chunkPartial {
		cr := pd.chunkRange(i)
		if pd.completed.ContainsFully(cr) {
			pd.chunkStates[i] = chunkComplete
			pd.maybeEnqueueVerify(i)
		}
	}
}

// canonicalHashSet returns the HashSet matching the current canonical
// chunk size, if any.
func (pd *PartData) canonicalHashSet() (filehash.HashSet, bool) {
	for _, hs := range pd.hashSets {
		if hs.ChunkSize == pd.chunkSize {
			return hs, true
		}
	}
	return filehash.HashSet{}, false
}

func (pd *PartData) maybeEnqueueVerify(i int) {
	hs, ok := pd.canonicalHashSet()
	if !ok || i >= hs.ChunkCount() || i >= len(hs.ChunkHashes) {
		return // complete-unverified: no HashSet available yet
	}
	cr := pd.chunkRange(i)
	data := make([]byte, cr.Length())
	if _, err := pd.disk.ReadAt(data, int64(cr.Begin)); err != nil {
		build.Severe(fmt.Sprintf("partdata: could not read back chunk %d for verification: %v", i, err))
		return
	}
	pd.chunkStates[i] = chunkHashing
	if pd.state == StateRunning {
		pd.setState(StateHashing)
	}
	job := hasher.NewChunkVerifyJob(pd.fileID, i, cr, hs.ChunkHashes[i], data)
	if err := pd.h.Submit(job); err != nil {
		pd.chunkStates[i] = chunkComplete
		return
	}
	pd.chunkJobs[i] = job
}

// AttachHashSet records hs as known for this file. If its chunk size is
// smaller than the current canonical chunk size (or it is the only
// HashSet on file, so the default chunk size was in effect), it
// becomes the new canonical chunk size and chunk bookkeeping is
// renegotiated. Already-verified bytes are never rolled back, even if a
// newly attached HashSet disagrees with one already on file; repeated
// disagreement at the same chunk size eventually distrusts it.
func (pd *PartData) AttachHashSet(hs filehash.HashSet) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.distrustedSizes[hs.ChunkSize] {
		return ErrHashSetDistrusted
	}
	for idx, existing := range pd.hashSets {
		if existing.ChunkSize != hs.ChunkSize {
			continue
		}
		if existing.Agrees(hs) {
			return nil
		}
		pd.disagreements[hs.ChunkSize]++
		pd.emit(Event{Kind: EventHashSetSuspect, ChunkSize: hs.ChunkSize, HashSet: hs})
		if pd.disagreements[hs.ChunkSize] >= hashSetDistrustThreshold {
			pd.distrustedSizes[hs.ChunkSize] = true
			pd.hashSets = append(pd.hashSets[:idx], pd.hashSets[idx+1:]...)
			return ErrHashSetDistrusted
		}
		return filehash.ErrHashSetConflict
	}
	pd.hashSets = append(pd.hashSets, hs)
	if pd.chunkSize == 0 || len(pd.hashSets) == 1 || hs.ChunkSize < pd.chunkSize {
		pd.renegotiateChunkSize(hs.ChunkSize)
	}
	return nil
}

// renegotiateChunkSize switches the canonical chunk size to newSize,
// re-deriving every chunk's status from the existing completed/verified
// coverage rather than rolling anything back.
func (pd *PartData) renegotiateChunkSize(newSize uint64) {
	pd.chunkSize = newSize
	count := pd.chunkCount()
	states := make([]chunkStatus, count)
	for i := 0; i < count; i++ {
		cr := pd.chunkRange(i)
		switch {
		case pd.verified.ContainsFully(cr):
			states[i] = chunkVerified
		case pd.completed.ContainsFully(cr):
			states[i] = chunkComplete
		case pd.completed.Overlaps(cr):
			states[i] = chunkPartial
		default:
			states[i] = chunkEmpty
		}
	}
	pd.chunkStates = states
	for i, st := range pd.chunkStates {
		if st == chunkComplete {
			pd.maybeEnqueueVerify(i)
		}
	}
}

// eventLoop drains the backing Hasher's Events channel for the lifetime of
// the PartData, translating worker outcomes into chunk state transitions.
// It exits once the Hasher's channel closes, which only happens after
// Stop has torn the worker down.
func (pd *PartData) eventLoop() {
	for ev := range pd.h.Events() {
		if ev.FileID != pd.fileID {
			continue
		}
		pd.handleEvent(ev)
	}
}

func (pd *PartData) handleEvent(ev hasher.Event) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	switch ev.Kind {
	case hasher.EventVerified:
		pd.onVerified(ev)
	case hasher.EventFailed:
		pd.onFailed(ev)
	case hasher.EventFullHashed:
		pd.onFullHashed(ev)
	case hasher.EventFatalError:
		build.Severe(fmt.Sprintf("partdata: hasher job %d failed fatally: %s: %s", ev.JobID, ev.ErrKind, ev.Message))
	}
}

// jobStillTracked reports whether ev corresponds to the job PartData still
// has recorded for chunk ev.ChunkIndex; a mismatch means the chunk was
// renegotiated or rewritten since the job was submitted, so the event is
// stale and must be ignored.
func (pd *PartData) jobStillTracked(ev hasher.Event) bool {
	job, ok := pd.chunkJobs[ev.ChunkIndex]
	return ok && job.ID() == ev.JobID
}

func (pd *PartData) onVerified(ev hasher.Event) {
	if !pd.jobStillTracked(ev) {
		return
	}
	delete(pd.chunkJobs, ev.ChunkIndex)
	if ev.ChunkIndex >= len(pd.chunkStates) {
		return
	}
	pd.chunkStates[ev.ChunkIndex] = chunkVerified
	if _, err := pd.verified.Merge(ev.Range); err != nil {
		build.Severe(fmt.Sprintf("partdata: could not merge verified range: %v", err))
		return
	}
	delete(pd.sourceWrites, ev.ChunkIndex)
	pd.emit(Event{Kind: EventChunkVerified, ChunkIndex: ev.ChunkIndex, Range: ev.Range})
	if len(pd.chunkJobs) == 0 && pd.state == StateHashing {
		pd.setState(StateRunning)
	}
	pd.maybeComplete()
}

func (pd *PartData) onFailed(ev hasher.Event) {
	if !pd.jobStillTracked(ev) {
		return
	}
	delete(pd.chunkJobs, ev.ChunkIndex)
	if err := pd.completed.Erase(ev.Range); err != nil {
		build.Severe(fmt.Sprintf("partdata: could not erase failed range: %v", err))
	}
	if _, err := pd.corrupt.Merge(ev.Range); err != nil {
		build.Severe(fmt.Sprintf("partdata: could not merge corrupt range: %v", err))
	}
	if suspect, ok := pd.blameSource(ev.ChunkIndex, ev.Range); ok {
		pd.emit(Event{Kind: EventSourceSuspect, ChunkIndex: ev.ChunkIndex, Range: ev.Range, SourceID: suspect})
	}
	delete(pd.sourceWrites, ev.ChunkIndex)
	if ev.ChunkIndex < len(pd.chunkStates) {
		pd.chunkStates[ev.ChunkIndex] = chunkEmpty
	}
	pd.emit(Event{Kind: EventChunkFailed, ChunkIndex: ev.ChunkIndex, Range: ev.Range})
	if len(pd.chunkJobs) == 0 && pd.state == StateHashing {
		pd.setState(StateRunning)
	}
}

// blameSource reports the single source whose recorded contribution to
// chunkIndex covers at least cfg.BlameThreshold of the chunk's length, if
// any. Ties (more than one source crossing the threshold) report none,
// since the evidence doesn't single one out.
func (pd *PartData) blameSource(chunkIndex int, r rangeset.Range) (string, bool) {
	writes := pd.sourceWrites[chunkIndex]
	if len(writes) == 0 {
		return "", false
	}
	need := uint64(float64(r.Length()) * pd.cfg.BlameThreshold)
	var suspect string
	hits := 0
	for src, n := range writes {
		if n >= need {
			suspect = src
			hits++
		}
	}
	if hits == 1 {
		return suspect, true
	}
	return "", false
}

func (pd *PartData) onFullHashed(ev hasher.Event) {
	pd.emit(Event{Kind: EventFullHashed, HashSet: ev.HashSet})
}

func (pd *PartData) maybeComplete() {
	if pd.state == StateComplete || pd.state == StateMoving || pd.state == StateDead {
		return
	}
	if pd.size > 0 && pd.verified.CoveredLength() == pd.size {
		pd.setState(StateComplete)
		pd.emit(Event{Kind: EventComplete})
	}
}

// scheduledRanges returns the union of every outstanding UsedRange's span.
func (pd *PartData) scheduledRanges() *rangeset.RangeList {
	out := rangeset.NewList()
	for _, ur := range pd.usedRanges {
		out.Merge(ur.rng)
	}
	return out
}

// allCoveredOrScheduled reports whether completed plus scheduled covers
// the whole file.
func (pd *PartData) allCoveredOrScheduled(scheduled *rangeset.RangeList) bool {
	union := pd.completed.Clone()
	for _, r := range scheduled.Ranges() {
		if _, err := union.Merge(r); err != nil {
			return false
		}
	}
	return pd.size > 0 && union.CoveredLength() == pd.size
}

func (pd *PartData) rarityFor(i int) int {
	bucket, ok := pd.avail[pd.chunkSize]
	if !ok {
		return 0
	}
	return bucket.rarity(i)
}

// peerOffers reports whether a peer advertising mask at peerChunkSize
// offers canonical chunk idx. When the peer's granularity matches ours
// this is a direct lookup; otherwise each peer-chunk is treated as
// covering a contiguous run of canonical chunks (or vice versa), which is
// an approximation — a peer mask that straddles a canonical chunk
// boundary at a non-divisor ratio is treated as offering the chunk if any
// overlapping peer-chunk is set.
func peerOffers(mask []bool, peerChunkSize uint64, canonicalIdx int, canonicalChunkSize uint64) bool {
	if len(mask) == 0 {
		return true // no mask supplied: assume full availability
	}
	if peerChunkSize == canonicalChunkSize {
		return canonicalIdx < len(mask) && mask[canonicalIdx]
	}
	begin := uint64(canonicalIdx) * canonicalChunkSize
	end := begin + canonicalChunkSize - 1
	first := int(begin / peerChunkSize)
	last := int(end / peerChunkSize)
	for i := first; i <= last && i < len(mask); i++ {
		if mask[i] {
			return true
		}
	}
	return false
}

// rangeScore ranks a candidate starting chunk for GetRange: lower rarity
// wins, then chunks already partially written, then the lowest offset.
type rangeScore struct {
	rarity  int
	partial bool
	offset  uint64
}

// better reports whether s should be preferred over other.
func (s rangeScore) better(other rangeScore) bool {
	if s.rarity != other.rarity {
		return s.rarity < other.rarity
	}
	if s.partial != other.partial {
		return s.partial
	}
	return s.offset < other.offset
}

// GetRange leases a contiguous run of canonical chunks (bounded by
// cfg.UsedRangeChunkCap) that sourceID's mask offers and this PartData
// still needs, preferring rarer and already-partially-written chunks
// first. mask may be nil to mean "offers everything."
func (pd *PartData) GetRange(peerChunkSize uint64, mask []bool, sourceID string) (*UsedRange, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	switch pd.state {
	case StateStopped, StateDead:
		return nil, ErrStopped
	case StatePaused:
		return nil, ErrPaused
	case StateComplete, StateMoving:
		return nil, ErrNoNeeded
	}
	pd.ensureChunking()

	scheduled := pd.scheduledRanges()
	best := -1
	var bestScore rangeScore
	for i := 0; i < pd.chunkCount(); i++ {
		cr := pd.chunkRange(i)
		if pd.completed.ContainsFully(cr) || scheduled.ContainsFully(cr) || pd.excluded.ContainsFully(cr) {
			continue
		}
		if !peerOffers(mask, peerChunkSize, i, pd.chunkSize) {
			continue
		}
		score := rangeScore{
			rarity:  pd.rarityFor(i),
			partial: pd.completed.Overlaps(cr),
			offset:  cr.Begin,
		}
		if best == -1 || score.better(bestScore) {
			best, bestScore = i, score
		}
	}
	if best == -1 {
		if pd.allCoveredOrScheduled(scheduled) {
			return nil, ErrNoNeeded
		}
		return nil, ErrNoMatchingAvailability
	}

	endIdx := best
	for endIdx+1 < pd.chunkCount() && endIdx+1-best < pd.cfg.UsedRangeChunkCap {
		cr := pd.chunkRange(endIdx + 1)
		if pd.completed.ContainsFully(cr) || scheduled.ContainsFully(cr) || pd.excluded.ContainsFully(cr) {
			break
		}
		if !peerOffers(mask, peerChunkSize, endIdx+1, pd.chunkSize) {
			break
		}
		endIdx++
	}

	span := rangeset.Range{Begin: pd.chunkRange(best).Begin, End: pd.chunkRange(endIdx).End}
	pd.nextUsedRangeID++
	ur := &UsedRange{
		id:       pd.nextUsedRangeID,
		pd:       pd,
		rng:      span,
		sourceID: sourceID,
		locks:    make(map[uint64]*LockedRange),
	}
	pd.usedRanges[ur.id] = ur
	return ur, nil
}

// getLock carves a LockedRange of at most size bytes from the earliest
// gap in ur's span not already locked or completed.
func (pd *PartData) getLock(ur *UsedRange, size uint64) (*LockedRange, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if pd.state == StateStopped {
		return nil, ErrStopped
	}
	if size == 0 || size > pd.cfg.LockSizeCap {
		size = pd.cfg.LockSizeCap
	}
	unavailable := pd.lockedCoverage.Clone()
	for _, r := range pd.completed.Ranges() {
		if _, err := unavailable.Merge(r); err != nil {
			return nil, err
		}
	}

	begin, ok := firstGap(unavailable, ur.rng, size)
	if !ok {
		return nil, ErrExhausted
	}
	end := begin + size - 1
	if end > ur.rng.End {
		end = ur.rng.End
	}
	for _, r := range unavailable.Ranges() {
		if r.Begin > begin && r.Begin <= end {
			end = r.Begin - 1
			break
		}
	}
	rng := rangeset.Range{Begin: begin, End: end}

	if unavailable.Overlaps(rng) {
		build.Severe("partdata: computed lock range overlaps existing coverage")
		return nil, ErrLockOverlap
	}
	if _, err := pd.lockedCoverage.Merge(rng); err != nil {
		return nil, err
	}

	pd.nextLockID++
	token := pd.leaseMon.Acquire(rng.String())
	lr := &LockedRange{
		id:         pd.nextLockID,
		ur:         ur,
		rng:        rng,
		leaseToken: token,
		written:    rangeset.NewList(),
	}
	ur.locks[lr.id] = lr
	return lr, nil
}

// firstGap finds the first byte within bounds not covered by unavailable,
// and returns it as the start of a lock of at most size bytes.
func firstGap(unavailable *rangeset.RangeList, bounds rangeset.Range, size uint64) (uint64, bool) {
	p := bounds.Begin
	for p <= bounds.End {
		if !unavailable.Contains(p) {
			return p, true
		}
		advanced := false
		for _, r := range unavailable.Ranges() {
			if r.Begin <= p && p <= r.End {
				p = r.End + 1
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	_ = size
	return 0, false
}

// lockedWrite writes data at offset within lr's span, retrying transient
// disk failures with exponential backoff. The write lands only in lr's
// private write set; it becomes visible in completed on Release.
func (pd *PartData) lockedWrite(lr *LockedRange, offset uint64, data []byte) error {
	pd.mu.Lock()
	if lr.released {
		pd.mu.Unlock()
		return ErrAlreadyReleased
	}
	if pd.state == StateStopped {
		pd.mu.Unlock()
		return ErrStopped
	}
	if pd.state != StateRunning && pd.state != StateHashing && pd.state != StatePaused {
		pd.mu.Unlock()
		return ErrNotRunning
	}
	if len(data) == 0 {
		pd.mu.Unlock()
		return nil
	}
	end := offset + uint64(len(data)) - 1
	if offset < lr.rng.Begin || end > lr.rng.End {
		pd.mu.Unlock()
		return ErrOutOfBounds
	}
	disk := pd.disk
	attempts := pd.cfg.RetryAttempts
	base := pd.cfg.RetryBaseDelay
	pd.mu.Unlock()

	if err := writeWithRetry(disk, data, offset, attempts, base); err != nil {
		return err
	}

	pd.mu.Lock()
	defer pd.mu.Unlock()
	_, err := lr.written.Merge(rangeset.Range{Begin: offset, End: end})
	return err
}

// writeWithRetry calls disk.WriteAt, retrying up to attempts-1 additional
// times with exponential backoff starting at base, composing every
// attempt's error into the one ultimately returned.
func writeWithRetry(disk Disk, data []byte, offset uint64, attempts int, base time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var errs []error
	delay := base
	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := disk.WriteAt(data, int64(offset)); err != nil {
			errs = append(errs, build.ExtendErr(fmt.Sprintf("disk write attempt %d failed", attempt+1), err))
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return build.JoinErrors(errs, "; ")
}

// releaseLock promotes lr's recorded writes into completed, frees its
// span, and advances the chunk state machine over whatever it just
// completed.
func (pd *PartData) releaseLock(lr *LockedRange) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if lr.released {
		return ErrAlreadyReleased
	}
	if pd.state == StateStopped {
		return ErrStopped
	}
	lr.released = true
	delete(lr.ur.locks, lr.id)
	if err := pd.lockedCoverage.Erase(lr.rng); err != nil {
		return err
	}
	pd.leaseMon.Release(lr.leaseToken)

	pd.ensureChunking()
	for _, r := range lr.written.Ranges() {
		if _, err := pd.completed.Merge(r); err != nil {
			return err
		}
		pd.recordSourceWrite(r, lr.ur.sourceID)
		pd.advanceChunks(r)
	}
	pd.maybeComplete()
	return nil
}

// cancelRange drops ur without promoting anything still held by its
// unreleased LockedRanges: their write sets are discarded, and their
// spans are freed. Bytes already promoted by an earlier Release remain
// completed.
func (pd *PartData) cancelRange(ur *UsedRange) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for _, lr := range ur.locks {
		if lr.released {
			continue
		}
		lr.released = true
		if err := pd.lockedCoverage.Erase(lr.rng); err != nil {
			return err
		}
		pd.leaseMon.Release(lr.leaseToken)
	}
	ur.locks = make(map[uint64]*LockedRange)
	delete(pd.usedRanges, ur.id)
	return nil
}

// Pause forbids new leases (GetRange fails with ErrPaused) and plain
// Write calls (ErrNotRunning), while any lease acquired before the call
// can still take locks, write and release normally. Nested Pause/Resume
// calls are reference-counted.
func (pd *PartData) Pause(cause PauseCause) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.pauseDepth++
	if pd.state == StateRunning || pd.state == StateHashing {
		pd.pauseCause = cause
		pd.setState(StatePaused)
	}
}

// Resume reverses one Pause call; the PartData only leaves the paused
// state once every Pause has a matching Resume.
func (pd *PartData) Resume() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.pauseDepth == 0 {
		return
	}
	pd.pauseDepth--
	if pd.pauseDepth == 0 && pd.state == StatePaused {
		pd.setState(StateRunning)
	}
}

// Stop invalidates every outstanding lease and the backing Hasher: after
// Stop, GetRange, GetLock, LockedRange.Write and LockedRange.Release fail
// with ErrStopped, and Write fails with ErrNotRunning.
func (pd *PartData) Stop() error {
	pd.mu.Lock()
	pd.setState(StateStopped)
	for _, job := range pd.chunkJobs {
		job.Invalidate()
	}
	pd.mu.Unlock()
	return pd.h.Stop()
}

// Commit fsyncs the backing disk and atomically renames the temporary
// file into its final location, transitioning through moving to dead.
// Pre: state must be complete.
func (pd *PartData) Commit() (string, error) {
	pd.mu.Lock()
	if pd.state != StateComplete {
		pd.mu.Unlock()
		return "", ErrNotRunning
	}
	pd.setState(StateMoving)
	disk := pd.disk
	tempPath, finalPath := pd.tempPath, pd.finalPath
	pd.mu.Unlock()

	if err := disk.Sync(); err != nil {
		return "", build.ExtendErr("partdata commit: fsync failed", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", build.ExtendErr("partdata commit: rename failed", err)
	}

	pd.mu.Lock()
	pd.setState(StateDead)
	pd.mu.Unlock()
	return finalPath, nil
}

// IsRangeVerified reports whether every byte of r has passed chunk
// verification, the test a container child uses to decide whether its
// own sub-range of a shared parent blob is done.
func (pd *PartData) IsRangeVerified(r rangeset.Range) bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.verified.ContainsFully(r)
}

// Summary is a diagnostic snapshot of a PartData's coverage, for status
// displays and tests.
type Summary struct {
	State          State
	Size           uint64
	CompletedBytes uint64
	VerifiedBytes  uint64
	CorruptBytes   uint64
	ChunkSize      uint64
	OpenUsedRanges int
}

// Summarize returns a point-in-time Summary.
func (pd *PartData) Summarize() Summary {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return Summary{
		State:          pd.state,
		Size:           pd.size,
		CompletedBytes: uint64(pd.completed.CoveredLength()),
		VerifiedBytes:  uint64(pd.verified.CoveredLength()),
		CorruptBytes:   uint64(pd.corrupt.CoveredLength()),
		ChunkSize:      pd.chunkSize,
		OpenUsedRanges: len(pd.usedRanges),
	}
}

// AddSourceMask records sourceID's offered-chunk bitmap at the given
// chunk size, creating fresh availability bookkeeping for that chunk size
// if this is the first mask seen at it. Returns ErrInvalidArgument if mask
// claims availability for more chunks than exist at chunkSize.
func (pd *PartData) AddSourceMask(chunkSize uint64, sourceID string, mask []bool) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	bucket, ok := pd.avail[chunkSize]
	if !ok {
		count := int(0)
		if chunkSize > 0 {
			count = int((pd.size + chunkSize - 1) / chunkSize)
		}
		bucket = newAvailability(chunkSize, count)
		pd.avail[chunkSize] = bucket
	}
	if err := bucket.addMask(sourceID, mask); err != nil {
		if !ok {
			delete(pd.avail, chunkSize)
		}
		return err
	}
	return nil
}

// RemoveSourceMask drops sourceID's mask at chunkSize, e.g. on
// disconnect. Returns ErrUnknownChunkSize if no bookkeeping exists for
// that chunk size.
func (pd *PartData) RemoveSourceMask(chunkSize uint64, sourceID string) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	bucket, ok := pd.avail[chunkSize]
	if !ok {
		return ErrUnknownChunkSize
	}
	bucket.removeMask(sourceID)
	return nil
}

// ExcludeRange marks r as not needed for scheduling purposes: GetRange
// skips any chunk fully inside it. Used by container composition to
// deselect a child's sub-range without fabricating data for it. It does
// not affect completed/verified bytes already on disk.
func (pd *PartData) ExcludeRange(r rangeset.Range) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	_, err := pd.excluded.Merge(r)
	return err
}

// IncludeRange reverses a prior ExcludeRange, making r eligible for
// GetRange scheduling again.
func (pd *PartData) IncludeRange(r rangeset.Range) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.excluded.Erase(r)
}
