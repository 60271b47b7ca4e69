package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"dirzip/pkg/fault"
	"dirzip/pkg/iox"
	"dirzip/pkg/progress"
	"dirzip/pkg/walker"
)

// Compress writes every entry under source into a new ZIP archive at target.
//
// After each entry one progress event is emitted and the token is checked.
// An abort leaves the partial archive on disk without a central directory,
// and the last member written may be truncated. A failure leaves whatever
// reached the file. Removing either is up to the caller.
func Compress(source, target string, opts Options) Result {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("source", source), zap.String("target", target),
		zap.Stringer("method", opts.Method))

	if !opts.Method.Supported() {
		return failed(Result{}, fault.ArchiveFormat("compress", target, fmt.Errorf("unsupported method %s", opts.Method)))
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return failed(Result{}, fault.Filesystem("resolve target", target, err))
	}
	walkOpts := walker.Options{Exclude: []string{absTarget}, Logger: opts.Logger}

	// Calculate totals for progress; skips are logged by the real walk
	total, totalBytes, err := walker.Count(source, walker.Options{Exclude: walkOpts.Exclude})
	if err != nil {
		return failed(Result{}, err)
	}
	res := Result{Total: total}
	log.Info("Compressing directory", zap.Int("entries", total), zap.Int64("bytes", totalBytes))

	if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
		return failed(res, fault.Filesystem("create output directory", filepath.Dir(absTarget), err))
	}
	f, err := os.Create(absTarget)
	if err != nil {
		return failed(res, fault.Filesystem("create output", absTarget, err))
	}
	defer iox.DiscardClose(f)

	bw := bufio.NewWriterSize(f, opts.BufferSize)
	zw := zip.NewWriter(bw)
	registerCompressors(zw, opts.Level)

	var fileSkips []walker.Failure
	var written atomic.Int64
	buf := make([]byte, opts.BufferSize)
	w := walker.New(source, walkOpts)
	for {
		entry, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return failed(res, err)
		}

		skipped, err := writeEntry(zw, entry, opts.Method, buf, &written)
		if err != nil {
			return failed(res, err)
		}
		res.Processed++
		res.Bytes = written.Load()
		if skipped != nil {
			fileSkips = append(fileSkips, *skipped)
			log.Warn("Skipping unreadable file", zap.String("path", entry.Path), zap.Error(skipped.Err))
		} else {
			log.Debug("Compressed entry", zap.String("name", entry.ArchiveName()))
		}

		opts.Sink.Emit(progress.Event{
			Op:         progress.OpCompress,
			Processed:  res.Processed,
			Total:      total,
			Name:       entry.ArchiveName(),
			Bytes:      res.Bytes,
			TotalBytes: totalBytes,
			Skipped:    skipped != nil,
		})

		abort, err := opts.Token.IsAbortRequested()
		if err != nil {
			return failed(res, err)
		}
		if abort {
			// Push out the members written so far. The last member's
			// compressor is never closed and no central directory follows.
			if err := zw.Flush(); err != nil {
				log.Warn("Flush partial archive", zap.Error(err))
			} else if err := bw.Flush(); err != nil {
				log.Warn("Flush partial archive", zap.Error(err))
			}
			log.Info("Compression aborted", zap.Int("processed", res.Processed))
			res.Skipped = append(walkerFailures(w), fileSkips...)
			res.Status = StatusAborted
			return res
		}
	}
	res.Skipped = append(walkerFailures(w), fileSkips...)

	if err := zw.Close(); err != nil {
		return failed(res, fault.Filesystem("write central directory", absTarget, err))
	}
	if err := bw.Flush(); err != nil {
		return failed(res, fault.Filesystem("flush output", absTarget, err))
	}
	if err := f.Sync(); err != nil {
		return failed(res, fault.Filesystem("sync output", absTarget, err))
	}
	if err := f.Close(); err != nil {
		return failed(res, fault.Filesystem("close output", absTarget, err))
	}

	log.Info("Compression complete", zap.Int("processed", res.Processed),
		zap.String("size", progress.FormatSize(uint64(res.Bytes))))
	res.Status = StatusSuccess
	return res
}

// writeEntry adds one entry to the archive. A file that cannot be opened is
// reported through the returned Failure rather than as an error.
func writeEntry(zw *zip.Writer, entry walker.Entry, method Method, buf []byte, written *atomic.Int64) (*walker.Failure, error) {
	hdr := &zip.FileHeader{
		Name:     entry.ArchiveName(),
		Modified: entry.ModTime,
	}

	if entry.IsDir() {
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeDir | entry.Mode.Perm())
		if _, err := zw.CreateHeader(hdr); err != nil {
			return nil, fault.Filesystem("write directory header", entry.RelPath, err)
		}
		return nil, nil
	}

	src, err := os.Open(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return &walker.Failure{Path: entry.Path, Err: err}, nil
		}
		return nil, fault.Filesystem("open", entry.Path, err)
	}
	defer iox.DiscardClose(src)

	hdr.Method = uint16(method)
	hdr.SetMode(entry.Mode.Perm())

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, fault.Filesystem("write header", entry.RelPath, err)
	}
	pw := &progress.Writer{W: dst, N: written}
	if _, err := io.CopyBuffer(pw, src, buf); err != nil {
		return nil, fault.Filesystem("compress", entry.Path, fmt.Errorf("copy: %w", err))
	}
	return nil, nil
}

func walkerFailures(w *walker.Walker) []walker.Failure {
	fails := w.Failures()
	out := make([]walker.Failure, len(fails))
	copy(out, fails)
	return out
}
