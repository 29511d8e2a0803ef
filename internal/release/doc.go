// Package release acquires and caches node-client releases.
//
// A BinaryUpdater combines a local cache directory with an optional remote
// Source (GitHub releases by default). It lists cached and remote
// releases, downloads and optionally unpacks archives with progress
// callbacks, and exposes the files inside a package as Entries so callers
// can locate the executable.
//
// Concurrent downloads of the same release are collapsed into one.
package release
