package progress

import (
	"fmt"
	"io"
	"sync/atomic"
)

// FormatSize returns a human-readable size string
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate returns a human-readable rate string
func FormatRate(bytesPerSec uint64) string {
	return FormatSize(bytesPerSec) + "/s"
}

// Writer is a writer that counts bytes written, for byte-level progress
type Writer struct {
	W io.Writer
	N *atomic.Int64
}

// Write implements io.Writer and tracks bytes written
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.W.Write(p)
	if n > 0 && pw.N != nil {
		pw.N.Add(int64(n))
	}
	return
}
