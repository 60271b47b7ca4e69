package core

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"dirzip/pkg/fault"
	"dirzip/pkg/iox"
	"dirzip/pkg/progress"
)

// ErrUnsafePath is wrapped by the error returned for a member whose name
// would land outside the extraction root.
var ErrUnsafePath = errors.New("member path escapes target directory")

// Decompress extracts the archive at source into the directory target,
// creating it if needed. Existing files are overwritten.
//
// Every member name is checked before anything is written, so an archive
// carrying an escaping path fails without touching the disk. After each
// member one progress event is emitted and the token is checked; an abort
// leaves the members extracted so far in place.
func Decompress(source, target string, opts Options) Result {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("source", source), zap.String("target", target))

	rc, err := openArchive(source)
	if err != nil {
		return failed(Result{}, err)
	}
	defer iox.DiscardClose(rc)
	registerDecompressors(&rc.Reader)

	// Validate and size every member before touching the disk
	dests := make([]string, len(rc.File))
	var totalBytes int64
	for i, zf := range rc.File {
		dest, err := destPath(target, zf.Name)
		if err != nil {
			return failed(Result{}, fault.ArchiveFormat("validate member", zf.Name, err))
		}
		dests[i] = dest
		totalBytes += int64(zf.UncompressedSize64)
	}
	res := Result{Total: len(rc.File)}
	log.Info("Extracting archive", zap.Int("members", res.Total), zap.Int64("bytes", totalBytes))

	if err := os.MkdirAll(target, 0755); err != nil {
		return failed(res, fault.Filesystem("create target root", target, err))
	}

	var written atomic.Int64
	var dirs []dirMeta
	buf := make([]byte, opts.BufferSize)
	for i, zf := range rc.File {
		if isDirMember(zf) {
			if err := extractDir(dests[i]); err != nil {
				return failed(res, err)
			}
			dirs = append(dirs, dirMeta{path: dests[i], mode: zf.Mode(), modified: zf.Modified})
		} else if err := extractMember(zf, dests[i], buf, &written, log); err != nil {
			return failed(res, err)
		}
		res.Processed++
		res.Bytes = written.Load()
		log.Debug("Extracted member", zap.String("name", zf.Name))

		opts.Sink.Emit(progress.Event{
			Op:         progress.OpDecompress,
			Processed:  res.Processed,
			Total:      res.Total,
			Name:       zf.Name,
			Bytes:      res.Bytes,
			TotalBytes: totalBytes,
		})

		abort, err := opts.Token.IsAbortRequested()
		if err != nil {
			return failed(res, err)
		}
		if abort {
			restoreDirs(dirs, log)
			log.Info("Extraction aborted", zap.Int("processed", res.Processed))
			res.Status = StatusAborted
			return res
		}
	}

	restoreDirs(dirs, log)
	log.Info("Extraction complete", zap.Int("processed", res.Processed),
		zap.String("size", progress.FormatSize(uint64(res.Bytes))))
	res.Status = StatusSuccess
	return res
}

// openArchive opens the archive at source. The reader may flag insecure member
// names while still handing back a usable archive; destPath judges those.
func openArchive(source string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(source)
	if rc != nil {
		return rc, nil
	}
	return nil, classifyOpen(source, err)
}

// classifyOpen separates a missing or unreadable archive from a corrupt one
func classifyOpen(source string, err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fault.Filesystem("open archive", source, err)
	}
	return fault.ArchiveFormat("open archive", source, err)
}

// destPath maps a member name to a path under root, rejecting names that are
// empty, absolute, drive-qualified or that climb out of root.
func destPath(root, name string) (string, error) {
	clean := strings.TrimSuffix(strings.ReplaceAll(name, `\`, "/"), "/")
	if clean == "" || strings.HasPrefix(clean, "/") {
		return "", ErrUnsafePath
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", ErrUnsafePath
		}
	}
	local := filepath.FromSlash(clean)
	if !filepath.IsLocal(local) {
		return "", ErrUnsafePath
	}
	return filepath.Join(root, local), nil
}

// isDirMember reports whether a member denotes a directory
func isDirMember(zf *zip.File) bool {
	return strings.HasSuffix(zf.Name, "/") || zf.Mode().IsDir()
}

// dirMeta is the stored metadata of a directory member, applied once its
// contents are in place
type dirMeta struct {
	path     string
	mode     fs.FileMode
	modified time.Time
}

// extractDir creates a directory member. An existing directory left
// read-only by an earlier extraction is made writable again until
// restoreDirs runs.
func extractDir(dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fault.Filesystem("create directory", dest, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return fault.Filesystem("stat directory", dest, err)
	}
	if info.Mode().Perm()&0700 != 0700 {
		if err := os.Chmod(dest, info.Mode().Perm()|0700); err != nil {
			return fault.Filesystem("chmod directory", dest, err)
		}
	}
	return nil
}

// restoreDirs applies directory permissions and times, deepest first, so a
// read-only parent does not block its children.
func restoreDirs(dirs []dirMeta, log *zap.Logger) {
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if perm := d.mode.Perm(); perm != 0 {
			if err := os.Chmod(d.path, perm); err != nil {
				log.Debug("Restore directory mode", zap.String("path", d.path), zap.Error(err))
			}
		}
		if !d.modified.IsZero() {
			if err := os.Chtimes(d.path, d.modified, d.modified); err != nil {
				log.Debug("Restore modification time", zap.String("path", d.path), zap.Error(err))
			}
		}
	}
}

// extractMember materialises one file member at dest
func extractMember(zf *zip.File, dest string, buf []byte, written *atomic.Int64, log *zap.Logger) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fault.Filesystem("create parent directory", filepath.Dir(dest), err)
	}

	src, err := zf.Open()
	if err != nil {
		return fault.ArchiveFormat("open member", zf.Name, err)
	}
	defer iox.DiscardClose(src)

	perm := zf.Mode().Perm()
	if perm == 0 || zf.Mode()&fs.ModeSymlink != 0 {
		perm = 0644
	}
	f, err := createDest(dest, perm)
	if err != nil {
		return fault.Filesystem("create", dest, err)
	}
	defer iox.DiscardClose(f)

	dst := &failWriter{w: &progress.Writer{W: f, N: written}}
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		if dst.err != nil {
			return fault.Filesystem("write", dest, dst.err)
		}
		return fault.ArchiveFormat("decompress member", zf.Name, err)
	}
	if err := f.Close(); err != nil {
		return fault.Filesystem("close", dest, err)
	}

	// A truncated existing file keeps its old mode
	if err := os.Chmod(dest, perm); err != nil {
		log.Debug("Restore file mode", zap.String("path", dest), zap.Error(err))
	}
	if !zf.Modified.IsZero() {
		if err := os.Chtimes(dest, zf.Modified, zf.Modified); err != nil {
			log.Debug("Restore modification time", zap.String("path", dest), zap.Error(err))
		}
	}
	return nil
}

// createDest opens dest for writing, truncating an existing file. A
// read-only regular file in the way is removed and created afresh.
func createDest(dest string, perm fs.FileMode) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	f, err := os.OpenFile(dest, flags, perm)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return f, err
	}
	info, serr := os.Lstat(dest)
	if serr != nil || !info.Mode().IsRegular() {
		return nil, err
	}
	if rerr := os.Remove(dest); rerr != nil {
		return nil, err
	}
	return os.OpenFile(dest, flags, perm)
}

// failWriter remembers a write-side error so it can be told apart from a
// read-side (archive) error after io.Copy returns.
type failWriter struct {
	w   io.Writer
	err error
}

func (fw *failWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		fw.err = err
	}
	return n, err
}

// drainMember reads a member to the end, which makes the zip reader check
// its size and CRC-32
func drainMember(zf *zip.File, buf []byte) error {
	if isDirMember(zf) {
		return nil
	}
	r, err := zf.Open()
	if err != nil {
		return err
	}
	defer iox.DiscardClose(r)

	_, err = io.CopyBuffer(io.Discard, r, buf)
	return err
}
