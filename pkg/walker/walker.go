// Package walker enumerates a directory tree for archiving.
//
// A Walker yields entries lazily, depth first, with every directory emitted
// before its contents and siblings in lexical order, so the same tree always
// produces the same sequence. Symlinks are dereferenced: a link to a file is
// archived as the file it points to, a link to a directory is descended into,
// and a link leading back into one of its own ancestors fails the walk.
package walker

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"dirzip/pkg/fault"
)

// Kind distinguishes the entries a walk produces.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink // a link dereferenced to a regular file
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	}
	return "unknown"
}

// ErrSymlinkCycle is wrapped by the error returned when a followed link
// points back to a directory already being walked.
var ErrSymlinkCycle = errors.New("symlink cycle")

// ErrUnsupported is recorded for sockets, devices and named pipes.
var ErrUnsupported = errors.New("unsupported file type")

// Entry is one filesystem node found under the root.
type Entry struct {
	RelPath string // slash separated, relative to the root
	Path    string // path on disk
	Kind    Kind
	Size    int64 // files only
	ModTime time.Time
	Mode    fs.FileMode
}

// IsDir reports whether e is a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDir }

// ArchiveName returns the member name for e: RelPath, with a trailing slash
// for directories.
func (e Entry) ArchiveName() string {
	if e.IsDir() {
		return e.RelPath + "/"
	}
	return e.RelPath
}

// Failure records a sub-entry that was skipped.
type Failure struct {
	Path string
	Err  error
}

// Options tune a walk.
type Options struct {
	// Exclude lists paths left out of the walk without recording a failure.
	Exclude []string
	Logger  *zap.Logger
}

type frame struct {
	dir   string
	rel   string
	info  fs.FileInfo
	names []string
	next  int
}

// Walker is a single, non-restartable pass over a tree.
type Walker struct {
	root     string
	exclude  map[string]bool
	logger   *zap.Logger
	stack    []*frame
	failures []Failure
	started  bool
	err      error
}

// New returns a walker over root. Nothing is read until the first Next.
func New(root string, opts Options) *Walker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	exclude := make(map[string]bool, len(opts.Exclude))
	for _, p := range opts.Exclude {
		if abs, err := filepath.Abs(p); err == nil {
			exclude[abs] = true
		}
	}
	return &Walker{root: root, exclude: exclude, logger: logger}
}

// Failures returns the sub-entries skipped so far.
func (w *Walker) Failures() []Failure {
	return w.failures
}

// Next returns the next entry, io.EOF once the walk is complete, or a
// *fault.Error when the walk cannot continue. After an error every call
// returns the same error.
func (w *Walker) Next() (Entry, error) {
	if w.err != nil {
		return Entry{}, w.err
	}
	if !w.started {
		w.started = true
		if err := w.open(); err != nil {
			w.err = err
			return Entry{}, err
		}
	}

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		if top.next >= len(top.names) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}
		name := top.names[top.next]
		top.next++

		entry, ok, err := w.visit(top, name)
		if err != nil {
			w.err = err
			return Entry{}, err
		}
		if ok {
			return entry, nil
		}
	}

	w.err = io.EOF
	return Entry{}, io.EOF
}

// open validates the root and pushes its frame.
func (w *Walker) open() error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fault.Filesystem("stat root", w.root, err)
	}
	if !info.IsDir() {
		return fault.Filesystem("walk root", w.root, fmt.Errorf("not a directory"))
	}
	names, err := readNames(w.root)
	if err != nil {
		return fault.Filesystem("read root", w.root, err)
	}
	w.stack = append(w.stack, &frame{dir: w.root, info: info, names: names})
	return nil
}

// visit resolves one child of parent. ok is false when the child is skipped.
func (w *Walker) visit(parent *frame, name string) (Entry, bool, error) {
	full := filepath.Join(parent.dir, name)
	rel := path.Join(parent.rel, name)

	if w.exclude[full] {
		return Entry{}, false, nil
	}

	linfo, err := os.Lstat(full)
	if err != nil {
		w.skip(full, err)
		return Entry{}, false, nil
	}

	info := linfo
	symlink := linfo.Mode()&fs.ModeSymlink != 0
	if symlink {
		info, err = os.Stat(full)
		if err != nil {
			w.skip(full, fmt.Errorf("resolve symlink: %w", err))
			return Entry{}, false, nil
		}
	}

	switch {
	case info.IsDir():
		for _, f := range w.stack {
			if os.SameFile(f.info, info) {
				return Entry{}, false, fault.Filesystem("follow symlink", full, ErrSymlinkCycle)
			}
		}
		names, err := readNames(full)
		if err != nil {
			w.skip(full, err)
			return Entry{}, false, nil
		}
		w.stack = append(w.stack, &frame{dir: full, rel: rel, info: info, names: names})
		return Entry{
			RelPath: rel,
			Path:    full,
			Kind:    KindDir,
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}, true, nil

	case info.Mode().IsRegular():
		kind := KindFile
		if symlink {
			kind = KindSymlink
		}
		return Entry{
			RelPath: rel,
			Path:    full,
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}, true, nil
	}

	w.skip(full, ErrUnsupported)
	return Entry{}, false, nil
}

func (w *Walker) skip(p string, err error) {
	w.logger.Warn("Skipping unreadable entry", zap.String("path", p), zap.Error(err))
	w.failures = append(w.failures, Failure{Path: p, Err: err})
}

// readNames lists a directory's children sorted by name.
func readNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Collect walks root to the end and returns every entry and skipped failure.
func Collect(root string, opts Options) ([]Entry, []Failure, error) {
	w := New(root, opts)
	var entries []Entry
	for {
		e, err := w.Next()
		if err == io.EOF {
			return entries, w.Failures(), nil
		}
		if err != nil {
			return entries, w.Failures(), err
		}
		entries = append(entries, e)
	}
}

// Count walks root and returns the number of entries and the total size of
// their regular-file contents.
func Count(root string, opts Options) (int, int64, error) {
	w := New(root, opts)
	var n int
	var size int64
	for {
		e, err := w.Next()
		if err == io.EOF {
			return n, size, nil
		}
		if err != nil {
			return n, size, err
		}
		n++
		size += e.Size
	}
}
