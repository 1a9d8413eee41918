package sharedfile

import (
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"

	"gitlab.com/hydranode/hydracore/filehash"
	"gitlab.com/hydranode/hydracore/hasher"
	"gitlab.com/hydranode/hydracore/metadb"
	"gitlab.com/hydranode/hydracore/partdata"
)

// fullHashQueueDepth/fullHashEventBuffer size the dedicated Hasher
// AddSharedDir drives: a directory scan submits one full-file job at a
// time and blocks on its result, so both only need to cover the single
// in-flight job plus a little slack for Stop to drain cleanly.
const (
	fullHashQueueDepth  = 4
	fullHashEventBuffer = 4
)

// SignalKind tags one FilesList lifecycle event.
type SignalKind int

const (
	// SignalAdded fires when a SharedFile is registered (download
	// started or on-disk file discovered).
	SignalAdded SignalKind = iota
	// SignalRemoved fires when a SharedFile is deregistered.
	SignalRemoved
	// SignalDownloadComplete fires when a download's PartData reaches
	// complete and is committed to its final path.
	SignalDownloadComplete
	// SignalDownloadCanceled fires when a download is canceled before
	// completion.
	SignalDownloadCanceled
	// SignalNameChanged fires when a SharedFile's display name changes.
	SignalNameChanged
)

// Signal is one FilesList event, in chronological per-file order.
type Signal struct {
	Kind SignalKind
	File *SharedFile
	// Path is populated for SignalDownloadComplete with the file's final
	// on-disk location.
	Path string
}

// FilesList is the exclusive owner of every SharedFile and PartData: it
// is the one object allowed to construct or destroy either, mirroring
// spec's "FilesList owns all SharedFile and PartData" ownership rule. All
// of its methods are intended to run on a single goroutine (the main
// event-loop thread, per SPEC_FULL's concurrency model); it carries no
// lock of its own, the same convention metadb.MetaDb uses.
type FilesList struct {
	db *metadb.MetaDb

	files   map[uint64]*SharedFile
	order   []uint64 // insertion order, for query()'s stable iteration
	nextID  uint64
	signals chan Signal

	diskOpen func(path string) (partdata.Disk, error)

	hashAlg       filehash.Alg
	hashChunkSize uint64
	fullHasher    *hasher.Hasher
}

// New returns an empty FilesList backed by db for identity lookups.
// diskOpen is injected so tests can substitute in-memory disks instead of
// touching the filesystem. hashAlg/hashChunkSize configure the scheme
// AddSharedDir hashes discovered files with, via a dedicated hasher.Hasher
// full-file worker FilesList owns until Close.
func New(db *metadb.MetaDb, diskOpen func(string) (partdata.Disk, error), hashAlg filehash.Alg, hashChunkSize uint64) *FilesList {
	return &FilesList{
		db:            db,
		files:         make(map[uint64]*SharedFile),
		signals:       make(chan Signal, 64),
		diskOpen:      diskOpen,
		hashAlg:       hashAlg,
		hashChunkSize: hashChunkSize,
		fullHasher:    hasher.New(fullHashQueueDepth, fullHashEventBuffer),
	}
}

// Close stops the full-file hasher AddSharedDir drives. It does not touch
// any in-progress download; those own their PartData's own Hasher.
func (fl *FilesList) Close() error {
	return fl.fullHasher.Stop()
}

// Signals returns the channel FilesList posts lifecycle events to.
func (fl *FilesList) Signals() <-chan Signal {
	return fl.signals
}

func (fl *FilesList) emit(sig Signal) {
	fl.signals <- sig
}

func (fl *FilesList) register(sf *SharedFile) {
	fl.nextID++
	sf.id = fl.nextID
	fl.files[sf.id] = sf
	fl.order = append(fl.order, sf.id)
	fl.emit(Signal{Kind: SignalAdded, File: sf})
}

// CreateDownload constructs a PartData-backed SharedFile for md and
// registers it. tempPath/finalPath name the temporary blob and its
// eventual committed location.
func (fl *FilesList) CreateDownload(name string, md *metadb.MetaData, tempPath, finalPath string, cfg partdata.Config) (*SharedFile, error) {
	disk, err := fl.diskOpen(tempPath)
	if err != nil {
		return nil, err
	}
	pd := partdata.New(md.ID, md.Size, disk, tempPath, finalPath, cfg)
	for _, hs := range md.HashSets {
		if err := pd.AttachHashSet(hs); err != nil {
			return nil, err
		}
	}
	sf := &SharedFile{name: name, size: md.Size, pd: pd, metaID: md.ID}
	fl.register(sf)
	go fl.watchDownload(sf)
	return sf, nil
}

// watchDownload drains sf's PartData signals for the lifetime of the
// download, translating a completion into a Commit plus a
// SignalDownloadComplete, mirroring §4.5's "signal FilesList" completion
// contract. It returns once the PartData reaches a terminal state.
func (fl *FilesList) watchDownload(sf *SharedFile) {
	for ev := range sf.pd.Signals() {
		if ev.Kind == partdata.EventStateChanged && ev.State == partdata.StateStopped {
			return
		}
		if ev.Kind != partdata.EventComplete {
			continue
		}
		path, err := sf.pd.Commit()
		if err != nil {
			continue
		}
		sf.finalPath = path
		sf.pd = nil
		fl.emit(Signal{Kind: SignalDownloadComplete, File: sf, Path: path})
		return
	}
}

// CancelDownload cancels an in-progress download: its PartData is
// stopped and sf is removed from the registry. A SharedFile with
// children must be cancelled child-by-child via CancelChild; cancelling
// it directly while children remain is rejected with ErrHasChildren.
func (fl *FilesList) CancelDownload(sf *SharedFile) error {
	if len(sf.children) > 0 {
		return ErrHasChildren
	}
	if sf.pd != nil {
		if err := sf.pd.Stop(); err != nil {
			return err
		}
	}
	fl.remove(sf)
	fl.emit(Signal{Kind: SignalDownloadCanceled, File: sf})
	return nil
}

// CancelChild cancels one child view of a container download: the
// child's sub-range is excluded from future scheduling on the parent's
// PartData (the bytes simply stop being requested; nothing already
// downloaded is discarded), and the child is deregistered. If that leaves
// the parent with no remaining children, the whole parent download is
// canceled, per spec's "when all children are cancelled the parent is
// cancelled" rule.
func (fl *FilesList) CancelChild(child *SharedFile) error {
	parent := child.parent
	if parent == nil {
		return fl.CancelDownload(child)
	}
	if parent.pd != nil {
		if err := parent.pd.ExcludeRange(child.Range()); err != nil {
			return err
		}
	}
	for i, c := range parent.children {
		if c == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	fl.remove(child)
	fl.emit(Signal{Kind: SignalRemoved, File: child})
	if len(parent.children) == 0 {
		return fl.CancelDownload(parent)
	}
	return nil
}

// AddChild registers a new child view over [begin,end] of parent's byte
// space, e.g. one member of a multi-file torrent. Returns ErrAlreadyShared
// if parent already has a child registered under name.
func (fl *FilesList) AddChild(parent *SharedFile, name string, begin, end uint64) (*SharedFile, error) {
	for _, c := range parent.children {
		if c.name == name {
			return nil, ErrAlreadyShared
		}
	}
	child := &SharedFile{
		name:   name,
		size:   end - begin + 1,
		parent: parent,
		begin:  begin,
		end:    end,
	}
	parent.children = append(parent.children, child)
	fl.register(child)
	return child, nil
}

func (fl *FilesList) remove(sf *SharedFile) {
	delete(fl.files, sf.id)
	for i, id := range fl.order {
		if id == sf.id {
			fl.order = append(fl.order[:i], fl.order[i+1:]...)
			break
		}
	}
}

// Rename changes sf's display name and emits SignalNameChanged.
func (fl *FilesList) Rename(sf *SharedFile, name string) {
	if sf.name == name {
		return
	}
	sf.name = name
	fl.emit(Signal{Kind: SignalNameChanged, File: sf})
}

// AddSharedDir scans path (recursively if requested), hashing every
// regular file it finds and wiring it to an existing MetaData whose
// strongest hash matches, or registering a fresh complete SharedFile
// otherwise. Files already registered under the same path are skipped.
func (fl *FilesList) AddSharedDir(path string, recursive bool) ([]*SharedFile, error) {
	var added []*SharedFile
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		hs, err := fl.hashFile(p)
		if err != nil {
			return nil // unreadable/unsupported file: skip, don't abort the scan
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		md, err := fl.db.FindByHash(hs.FileHash)
		if err != nil {
			md = &metadb.MetaData{Size: uint64(info.Size())}
			md.HashSets = append(md.HashSets, hs)
		}
		md.Names = append(md.Names, filepath.Base(p))
		stored, err := fl.db.Push(md)
		if err != nil {
			return nil
		}
		sf := &SharedFile{name: filepath.Base(p), size: uint64(info.Size()), finalPath: p, metaID: stored.ID}
		fl.register(sf)
		added = append(added, sf)
		return nil
	})
	return added, err
}

// hashFile computes p's full-file HashSet by submitting a full-file job to
// fullHasher and blocking for its matching event, routing AddSharedDir's
// hashing through FilesList's own full-file Hasher rather than any
// download's PartData worker.
func (fl *FilesList) hashFile(p string) (filehash.HashSet, error) {
	f, err := os.Open(p)
	if err != nil {
		return filehash.HashSet{}, err
	}
	defer f.Close()

	job := hasher.NewFullFileJob(0, fl.hashAlg, fl.hashChunkSize, f)
	if err := fl.fullHasher.Submit(job); err != nil {
		return filehash.HashSet{}, err
	}
	for ev := range fl.fullHasher.Events() {
		if ev.JobID != job.ID() {
			continue
		}
		switch ev.Kind {
		case hasher.EventFullHashed:
			return ev.HashSet, nil
		default:
			return filehash.HashSet{}, errors.New(ev.Message)
		}
	}
	return filehash.HashSet{}, errors.New("full-file hasher stopped before producing a result")
}

// Filter decides whether a SharedFile matches a Query.
type Filter func(*SharedFile) bool

// Query returns every registered SharedFile matching filter, in
// registration order, with no duplicates.
func (fl *FilesList) Query(filter Filter) []*SharedFile {
	var out []*SharedFile
	for _, id := range fl.order {
		sf, ok := fl.files[id]
		if !ok {
			continue
		}
		if filter == nil || filter(sf) {
			out = append(out, sf)
		}
	}
	return out
}

// Get returns the SharedFile registered under id.
func (fl *FilesList) Get(id uint64) (*SharedFile, error) {
	sf, ok := fl.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sf, nil
}

// Len returns the number of registered SharedFiles.
func (fl *FilesList) Len() int {
	return len(fl.files)
}
