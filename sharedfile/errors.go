package sharedfile

import "github.com/NebulousLabs/errors"

var (
	// ErrNotFound is returned by FilesList lookups that find no match.
	ErrNotFound = errors.New("shared file not found")

	// ErrAlreadyShared is returned by createDownload/addSharedDir when the
	// requested name already has a distinct SharedFile registered under
	// the same parent.
	ErrAlreadyShared = errors.New("a shared file with that name already exists")

	// ErrStillDownloading is returned by an operation that requires a
	// complete SharedFile (e.g. proof building) while its PartData is
	// still incomplete.
	ErrStillDownloading = errors.New("shared file is still downloading")

	// ErrHasChildren is returned by Remove on a SharedFile that still has
	// children registered under it.
	ErrHasChildren = errors.New("shared file still has children")
)
