package release

import "errors"

var (
	// ErrNotFound is returned when no release matches.
	ErrNotFound = errors.New("release: not found")

	// ErrNoSource is returned by remote operations when no Source is configured.
	ErrNoSource = errors.New("release: no remote source configured")

	// ErrUnsupportedArchive is returned for packages in an unknown format.
	ErrUnsupportedArchive = errors.New("release: unsupported archive format")

	// ErrUnsafePath is returned when an archive entry would escape its
	// extraction directory.
	ErrUnsafePath = errors.New("release: unsafe path in archive")
)
