// Package core writes directory trees into ZIP archives and extracts them.
package core

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"dirzip/pkg/fault"
	"dirzip/pkg/progress"
	"dirzip/pkg/walker"
)

// Method is the ZIP compression method applied to file members
type Method uint16

// Supported methods. Store and Deflate are readable by every ZIP tool, Zstd
// uses the WinZip method id understood by 7-Zip and libarchive, and LZ4 uses
// a private id only dirzip reads back.
const (
	Store   Method = Method(zip.Store)
	Deflate Method = Method(zip.Deflate)
	Zstd    Method = Method(zstd.ZipMethodWinZip)
	LZ4     Method = 0x4c34
)

// String returns the method name
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// Portable reports whether general-purpose ZIP tools can read the method
func (m Method) Portable() bool {
	return m == Store || m == Deflate
}

// Supported reports whether m is one of the methods above
func (m Method) Supported() bool {
	switch m {
	case Store, Deflate, Zstd, LZ4:
		return true
	}
	return false
}

// ParseMethod converts a method name to a Method
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "store", "stored", "none":
		return Store, nil
	case "deflate", "deflated", "":
		return Deflate, nil
	case "zstd", "zstandard":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return 0, fmt.Errorf("unknown compression method %q", name)
}

// Member is one entry as stored in the archive
type Member struct {
	Name             string
	Method           Method
	CompressedSize   uint64
	UncompressedSize uint64
	CRC32            uint32
	Modified         time.Time
	IsDir            bool
}

// Token tells the engine whether to stop. It is checked once per entry.
type Token interface {
	IsAbortRequested() (bool, error)
}

// TokenFunc adapts a function to Token
type TokenFunc func() (bool, error)

// IsAbortRequested calls f
func (f TokenFunc) IsAbortRequested() (bool, error) { return f() }

// Never is a Token that never asks to stop
var Never Token = TokenFunc(func() (bool, error) { return false, nil })

// Default tuning values
const (
	DefaultLevel      = flate.DefaultCompression
	DefaultBufferSize = 256 * 1024
)

// Options configure Compress and Decompress. Level is a compress/flate level
// taken as given, so the zero value is flate.NoCompression; set DefaultLevel
// for ordinary deflate output.
type Options struct {
	Method     Method // Compress only
	Level      int    // Compress only
	BufferSize int
	Sink       progress.Sink
	Token      Token
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Sink == nil {
		o.Sink = progress.Discard
	}
	if o.Token == nil {
		o.Token = Never
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// Status is the outcome of an operation
type Status int

const (
	StatusSuccess Status = iota
	StatusAborted
	StatusFailure
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAborted:
		return "aborted"
	case StatusFailure:
		return "failure"
	}
	return "unknown"
}

// Result is the terminal outcome of Compress or Decompress
type Result struct {
	Status    Status
	Processed int   // entries processed, skipped ones included
	Total     int   // entries expected
	Bytes     int64 // uncompressed bytes written or extracted
	Skipped   []walker.Failure
	Err       error // set only for StatusFailure
}

// Kind returns the failure kind, or 0 when the result is not a failure
func (r Result) Kind() fault.Kind {
	if r.Status != StatusFailure {
		return 0
	}
	return fault.KindOf(r.Err)
}

// OK reports whether the operation succeeded
func (r Result) OK() bool { return r.Status == StatusSuccess }

func failed(r Result, err error) Result {
	r.Status = StatusFailure
	r.Err = err
	return r
}

// registerCompressors installs the codecs for every supported method
func registerCompressors(zw *zip.Writer, level int) {
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	zw.RegisterCompressor(uint16(Zstd), zstd.ZipCompressor())
	zw.RegisterCompressor(uint16(LZ4), func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
}

// registerDecompressors installs the decoders for the non-standard methods
func registerDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(uint16(Zstd), zstd.ZipDecompressor())
	zr.RegisterDecompressor(uint16(LZ4), func(r io.Reader) io.ReadCloser {
		return io.NopCloser(lz4.NewReader(r))
	})
}
