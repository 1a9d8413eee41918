package partdata

import (
	"os"
	"testing"
	"time"

	"gitlab.com/hydranode/hydracore/filehash"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultChunkSize = 16
	cfg.LockSizeCap = 16
	cfg.UsedRangeChunkCap = 2
	cfg.RetryAttempts = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.LeaseMaxHold = time.Minute
	cfg.HasherQueueDepth = 8
	cfg.HasherEventBuffer = 8
	return cfg
}

func hashSetFor(t *testing.T, data []byte, chunkSize uint64) filehash.HashSet {
	t.Helper()
	maker, err := filehash.NewHashSetMaker(filehash.AlgED2K, chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := maker.Update(data); err != nil {
		t.Fatal(err)
	}
	hs, err := maker.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	return hs
}

func waitForEvent(t *testing.T, pd *PartData, kind EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-pd.Signals():
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func newTestPartData(size uint64) (*PartData, *memDisk) {
	disk := newMemDisk(size)
	pd := New(1, size, disk, "/tmp/x.tmp", "/tmp/x.final", testConfig())
	return pd, disk
}

func TestSingleChunkWriteAndVerify(t *testing.T) {
	data := []byte("0123456789abcdef") // exactly one 16-byte chunk
	hs := hashSetFor(t, data, 16)

	pd, disk := newTestPartData(16)
	if err := pd.AttachHashSet(hs); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(0, data); err != nil {
		t.Fatal(err)
	}

	waitForEvent(t, pd, EventChunkVerified)
	waitForEvent(t, pd, EventComplete)

	if pd.State() != StateComplete {
		t.Fatalf("expected complete, got %v", pd.State())
	}
	if string(disk.Bytes()) != string(data) {
		t.Fatal("disk contents mismatch")
	}
}

func TestMultiChunkOutOfOrderVerify(t *testing.T) {
	data := []byte("AAAAAAAAAAAAAAAA" + "BBBBBBBBBBBBBBBB" + "CCCCCCCCCCCCCCCC")
	hs := hashSetFor(t, data, 16)

	pd, _ := newTestPartData(uint64(len(data)))
	if err := pd.AttachHashSet(hs); err != nil {
		t.Fatal(err)
	}

	// write chunk 2, then 0, then 1: the chunk state machine must not
	// care about write order.
	if err := pd.Write(32, data[32:48]); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(0, data[0:16]); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(16, data[16:32]); err != nil {
		t.Fatal(err)
	}

	seen := 0
	for seen < 3 {
		ev := waitForEvent(t, pd, EventChunkVerified)
		_ = ev
		seen++
	}
	waitForEvent(t, pd, EventComplete)
	if pd.State() != StateComplete {
		t.Fatalf("expected complete, got %v", pd.State())
	}
}

func TestFailedChunkBlamesSource(t *testing.T) {
	good := []byte("0123456789abcdef")
	bad := []byte("################")
	hs := hashSetFor(t, good, 16)

	pd, _ := newTestPartData(16)
	if err := pd.AttachHashSet(hs); err != nil {
		t.Fatal(err)
	}

	pd.mu.Lock()
	err := pd.writeLocked(0, bad, "peer-evil")
	pd.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, pd, EventSourceSuspect)
	if ev.SourceID != "peer-evil" {
		t.Fatalf("expected blame on peer-evil, got %q", ev.SourceID)
	}
	waitForEvent(t, pd, EventChunkFailed)

	summary := pd.Summarize()
	if summary.CompletedBytes != 0 {
		t.Fatalf("expected failed chunk erased from completed, got %d bytes", summary.CompletedBytes)
	}
}

func TestAttachSmallerHashSetRenegotiates(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	big := hashSetFor(t, data, 32)
	small := hashSetFor(t, data, 16)

	pd, _ := newTestPartData(32)
	if err := pd.AttachHashSet(big); err != nil {
		t.Fatal(err)
	}
	if pd.ChunkSize() != 32 {
		t.Fatalf("expected canonical chunk size 32, got %d", pd.ChunkSize())
	}
	if err := pd.AttachHashSet(small); err != nil {
		t.Fatal(err)
	}
	if pd.ChunkSize() != 16 {
		t.Fatalf("expected canonical chunk size 16 after renegotiation, got %d", pd.ChunkSize())
	}
}

func TestAttachDisagreeingHashSetEventuallyDistrusted(t *testing.T) {
	a := hashSetFor(t, []byte("0123456789abcdef"), 16)
	b := a
	b.ChunkHashes = append([]filehash.Hash{}, a.ChunkHashes...)
	b.ChunkHashes[0].Sum = append([]byte{}, b.ChunkHashes[0].Sum...)
	b.ChunkHashes[0].Sum[0] ^= 0xFF

	pd, _ := newTestPartData(16)
	if err := pd.AttachHashSet(a); err != nil {
		t.Fatal(err)
	}
	var lastErr error
	for i := 0; i < hashSetDistrustThreshold; i++ {
		lastErr = pd.AttachHashSet(b)
	}
	if lastErr != ErrHashSetDistrusted {
		t.Fatalf("expected ErrHashSetDistrusted after repeated disagreement, got %v", lastErr)
	}
	if err := pd.AttachHashSet(b); err != ErrHashSetDistrusted {
		t.Fatalf("expected further attachments to be rejected, got %v", err)
	}
}

func TestGetRangePrefersRarerChunks(t *testing.T) {
	pd, _ := newTestPartData(48)
	// peerA offers every chunk; peerB offers everything except the
	// middle one, so the middle chunk (index 1) is the rarest: only one
	// known source has it.
	if err := pd.AddSourceMask(16, "peerA", []bool{true, true, true}); err != nil {
		t.Fatal(err)
	}
	if err := pd.AddSourceMask(16, "peerB", []bool{true, false, true}); err != nil {
		t.Fatal(err)
	}

	ur, err := pd.GetRange(16, []bool{true, true, true}, "peer")
	if err != nil {
		t.Fatal(err)
	}
	if ur.Range().Begin != 16 {
		t.Fatalf("expected the rarer middle chunk to be picked first, got range %v", ur.Range())
	}
}

func TestAddSourceMaskRejectsOversizedMask(t *testing.T) {
	pd, _ := newTestPartData(48)
	err := pd.AddSourceMask(16, "peerA", []bool{true, true, true, true})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	// the rejected mask must not have left behind partial bookkeeping:
	// a subsequent well-formed mask from the same source should behave
	// as if it were the first ever seen at this chunk size.
	if err := pd.AddSourceMask(16, "peerA", []bool{true, false, true}); err != nil {
		t.Fatal(err)
	}
	ur, err := pd.GetRange(16, []bool{true, false, true}, "peer")
	if err != nil {
		t.Fatal(err)
	}
	if ur.Range().Begin != 0 {
		t.Fatalf("expected chunk 0 to be available after a valid mask, got range %v", ur.Range())
	}
}

func TestGetRangeNoMatchingAvailability(t *testing.T) {
	pd, _ := newTestPartData(32)
	_, err := pd.GetRange(16, []bool{false, false}, "peer")
	if err != ErrNoMatchingAvailability {
		t.Fatalf("expected ErrNoMatchingAvailability, got %v", err)
	}
}

func TestGetRangeNoNeededOnceComplete(t *testing.T) {
	data := []byte("0123456789abcdef")
	hs := hashSetFor(t, data, 16)
	pd, _ := newTestPartData(16)
	if err := pd.AttachHashSet(hs); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(0, data); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, pd, EventComplete)

	_, err := pd.GetRange(16, nil, "peer")
	if err != ErrNoNeeded {
		t.Fatalf("expected ErrNoNeeded, got %v", err)
	}
}

func TestLockedRangeWriteAndRelease(t *testing.T) {
	pd, disk := newTestPartData(16)
	ur, err := pd.GetRange(16, nil, "peer")
	if err != nil {
		t.Fatal(err)
	}
	lr, err := ur.GetLock(16)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("0123456789abcdef")
	if err := lr.Write(0, data); err != nil {
		t.Fatal(err)
	}

	// the bytes land on disk as soon as they're written; it's only the
	// logical completed accounting that release promotes.
	if string(disk.Bytes()) != string(data) {
		t.Fatal("expected data written to disk immediately")
	}
	if pd.Summarize().CompletedBytes != 0 {
		t.Fatal("expected no completed bytes before release")
	}

	if err := lr.Release(); err != nil {
		t.Fatal(err)
	}
	summary := pd.Summarize()
	if summary.CompletedBytes != 16 {
		t.Fatalf("expected 16 completed bytes after release, got %d", summary.CompletedBytes)
	}
}

func TestLockOverlapRejected(t *testing.T) {
	pd, _ := newTestPartData(32)
	ur, err := pd.GetRange(16, nil, "peer")
	if err != nil {
		t.Fatal(err)
	}
	lr1, err := ur.GetLock(16)
	if err != nil {
		t.Fatal(err)
	}
	lr2, err := ur.GetLock(16)
	if err != nil {
		t.Fatal(err)
	}
	if lr1.Range().Overlaps(lr2.Range()) {
		t.Fatal("two locks within the same UsedRange must not overlap")
	}
}

func TestCancelRangeDiscardsUnreleasedWrites(t *testing.T) {
	pd, _ := newTestPartData(16)
	ur, err := pd.GetRange(16, nil, "peer")
	if err != nil {
		t.Fatal(err)
	}
	lr, err := ur.GetLock(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := lr.Write(0, []byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if err := ur.Cancel(); err != nil {
		t.Fatal(err)
	}
	summary := pd.Summarize()
	if summary.CompletedBytes != 0 {
		t.Fatalf("expected no completed bytes after cancel, got %d", summary.CompletedBytes)
	}
}

func TestPauseRejectsNewLeases(t *testing.T) {
	pd, _ := newTestPartData(16)
	pd.Pause(PauseCauseManual)
	_, err := pd.GetRange(16, nil, "peer")
	if err != ErrPaused {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	pd.Resume()
	if _, err := pd.GetRange(16, nil, "peer"); err != nil {
		t.Fatalf("expected lease to succeed after resume, got %v", err)
	}
}

func TestStopRejectsFurtherWrites(t *testing.T) {
	pd, _ := newTestPartData(16)
	if err := pd.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(0, []byte("x")); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
	if _, err := pd.GetRange(16, nil, "peer"); err != ErrStopped {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
}

func TestCommitRequiresComplete(t *testing.T) {
	pd, _ := newTestPartData(16)
	if _, err := pd.Commit(); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning before completion, got %v", err)
	}
}

func TestCommitRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	tempPath := dir + "/part.tmp"
	finalPath := dir + "/part.final"
	if err := os.WriteFile(tempPath, []byte("placeholder"), 0o644); err != nil {
		t.Fatal(err)
	}

	data := []byte("0123456789abcdef")
	hs := hashSetFor(t, data, 16)
	disk := newMemDisk(16)
	pd := New(1, 16, disk, tempPath, finalPath, testConfig())
	if err := pd.AttachHashSet(hs); err != nil {
		t.Fatal(err)
	}
	if err := pd.Write(0, data); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, pd, EventComplete)

	got, err := pd.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if got != finalPath {
		t.Fatalf("expected final path %q, got %q", finalPath, got)
	}
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected final path to exist: %v", err)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatal("expected temp path to be gone after rename")
	}
	if pd.State() != StateDead {
		t.Fatalf("expected dead state after commit, got %v", pd.State())
	}
}
