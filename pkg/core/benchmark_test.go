package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func benchTree(b *testing.B, size int) string {
	b.Helper()
	dir := b.TempDir()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 256)
	}
	if err := os.WriteFile(filepath.Join(dir, "testfile.dat"), content, 0644); err != nil {
		b.Fatalf("Failed to write test file: %v", err)
	}
	return dir
}

// BenchmarkCompression measures each method on deterministic content
func BenchmarkCompression(b *testing.B) {
	const size = 4 * 1024 * 1024
	for _, method := range []Method{Store, Deflate, Zstd, LZ4} {
		b.Run(fmt.Sprintf("%s-%dMB", method, size>>20), func(b *testing.B) {
			src := benchTree(b, size)
			archive := filepath.Join(b.TempDir(), "bench.zip")

			b.SetBytes(size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if res := Compress(src, archive, Options{Method: method}); !res.OK() {
					b.Fatalf("Compression failed: %v", res.Err)
				}
			}
		})
	}
}

// BenchmarkDecompression measures extraction of an archive per method
func BenchmarkDecompression(b *testing.B) {
	const size = 4 * 1024 * 1024
	for _, method := range []Method{Store, Deflate, Zstd, LZ4} {
		b.Run(fmt.Sprintf("%s-%dMB", method, size>>20), func(b *testing.B) {
			src := benchTree(b, size)
			archive := filepath.Join(b.TempDir(), "bench.zip")
			if res := Compress(src, archive, Options{Method: method}); !res.OK() {
				b.Fatalf("Compression failed: %v", res.Err)
			}
			dst := b.TempDir()

			b.SetBytes(size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if res := Decompress(archive, dst, Options{}); !res.OK() {
					b.Fatalf("Decompression failed: %v", res.Err)
				}
			}
		})
	}
}
