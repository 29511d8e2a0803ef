package release

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var archiveExtensions = []string{".tar.gz", ".tgz", ".zip"}

// isArchive reports whether name has a supported package extension.
func isArchive(name string) bool {
	return archiveExt(name) != ""
}

func archiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// archiveBase strips a supported archive extension from p.
func archiveBase(p string) string {
	if ext := archiveExt(p); ext != "" {
		return p[:len(p)-len(ext)]
	}
	return p
}

// Entry is one regular file inside a release package.
type Entry struct {
	// RelativePath is the slash-separated path inside the package.
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	Mode         fs.FileMode
	open         func() (io.ReadCloser, error)
}

// Name returns the base file name of the entry.
func (e Entry) Name() string {
	return path.Base(e.RelativePath)
}

// ReadContent returns the entry's full contents.
func (e Entry) ReadContent() ([]byte, error) {
	if e.open == nil {
		return nil, fmt.Errorf("release: entry %s has no content", e.RelativePath)
	}
	rc, err := e.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// NewEntry builds an Entry backed by an arbitrary opener. Used by Updater
// implementations outside this package and by tests.
func NewEntry(relativePath string, mode fs.FileMode, open func() (io.ReadCloser, error)) Entry {
	return Entry{RelativePath: relativePath, Mode: mode, open: open}
}

// listArchive returns the regular files in the archive at p.
func listArchive(p string) ([]Entry, error) {
	switch archiveExt(p) {
	case ".zip":
		return listZip(p)
	case ".tar.gz", ".tgz":
		return listTarGz(p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(p))
	}
}

func listZip(p string) ([]Entry, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		entries = append(entries, Entry{
			RelativePath: name,
			Size:         int64(f.UncompressedSize64), //nolint:gosec // sizes fit in int64
			Mode:         f.Mode(),
			open: func() (io.ReadCloser, error) {
				return openZipMember(p, name)
			},
		})
	}
	return entries, nil
}

func openZipMember(archivePath, name string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				zr.Close()
				return nil, err
			}
			return &multiCloser{Reader: rc, closers: []io.Closer{rc, zr}}, nil
		}
	}
	zr.Close()
	return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, filepath.Base(archivePath))
}

func listTarGz(p string) ([]Entry, error) {
	var entries []Entry
	err := walkTarGz(p, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		if hdr.Typeflag != tar.TypeReg {
			return false, nil
		}
		name := hdr.Name
		entries = append(entries, Entry{
			RelativePath: strings.TrimPrefix(name, "./"),
			Size:         hdr.Size,
			Mode:         hdr.FileInfo().Mode(),
			open: func() (io.ReadCloser, error) {
				return openTarMember(p, name)
			},
		})
		return false, nil
	})
	return entries, err
}

// walkTarGz calls fn for each header; fn returns true to stop early.
func walkTarGz(p string, fn func(*tar.Header, io.Reader) (bool, error)) error {
	f, err := os.Open(p) //nolint:gosec // Path is inside the release cache
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		stop, err := fn(hdr, tr)
		if err != nil || stop {
			return err
		}
	}
}

func openTarMember(archivePath, name string) (io.ReadCloser, error) {
	var content []byte
	err := walkTarGz(archivePath, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Name != name {
			return false, nil
		}
		b, err := io.ReadAll(r)
		content = b
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, filepath.Base(archivePath))
	}
	return io.NopCloser(strings.NewReader(string(content))), nil
}

// extractArchive unpacks every regular file of the archive at src into dest.
// Each archive is read in a single pass; a tarball is decompressed once to
// count its files and once to write them.
func extractArchive(src, dest string, onProgress func(Progress)) error {
	switch archiveExt(src) {
	case ".zip":
		return extractZip(src, dest, onProgress)
	case ".tar.gz", ".tgz":
		return extractTarGz(src, dest, onProgress)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(src))
	}
}

func extractTarGz(src, dest string, onProgress func(Progress)) error {
	var total int64
	err := walkTarGz(src, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		if hdr.Typeflag == tar.TypeReg {
			total++
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	var done int64
	return walkTarGz(src, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Typeflag != tar.TypeReg {
			return false, nil
		}
		rel := strings.TrimPrefix(hdr.Name, "./")
		if err := writeEntry(dest, rel, hdr.FileInfo().Mode(), r); err != nil {
			return false, err
		}
		done++
		if onProgress != nil {
			onProgress(Progress{Done: done, Total: total})
		}
		return false, nil
	})
}

func extractZip(src, dest string, onProgress func(Progress)) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	var total int64
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			total++
		}
	}

	var done int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		err = writeEntry(dest, f.Name, f.Mode(), rc)
		rc.Close()
		if err != nil {
			return err
		}
		done++
		if onProgress != nil {
			onProgress(Progress{Done: done, Total: total})
		}
	}
	return nil
}

// writeEntry streams r into rel under dest.
func writeEntry(dest, rel string, mode fs.FileMode, r io.Reader) error {
	target, err := safeJoin(dest, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) //nolint:gosec // Target checked by safeJoin
	if err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil { //nolint:gosec // Release archives come from the plugin's own repository
		f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

// safeJoin joins an archive-relative path onto dest, refusing paths that
// would land outside dest.
func safeJoin(dest, rel string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(rel))
	if target != dest && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	return target, nil
}

// dirEntries lists regular files under an extracted package directory.
func dirEntries(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
			Mode:         info.Mode(),
			open: func() (io.ReadCloser, error) {
				return os.Open(p) //nolint:gosec // Path comes from walking the cache
			},
		})
		return nil
	})
	return entries, err
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
