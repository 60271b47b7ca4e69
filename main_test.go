package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"dirzip/pkg/core"
)

// runApp runs the CLI in-process and returns stdout and the exit code
func runApp(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"dirzip"}, args...))
	if err == nil {
		return out.String(), exitSuccess
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return out.String(), exitCoder.ExitCode()
	}
	return out.String(), exitFailure
}

func TestCompressListVerifyDecompress(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0755); err != nil {
		t.Fatalf("Failed to create sub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("Failed to write a.txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("0123456789"), 0644); err != nil {
		t.Fatalf("Failed to write b.txt: %v", err)
	}
	out := t.TempDir()
	archive := filepath.Join(out, "tree.zip")

	if _, code := runApp(t, "-q", "compress", "-m", "zstd", src, archive); code != exitSuccess {
		t.Fatalf("compress exit code = %d", code)
	}

	listing, code := runApp(t, "list", archive)
	if code != exitSuccess {
		t.Fatalf("list exit code = %d", code)
	}
	for _, want := range []string{"a.txt", "sub/", "sub/b.txt", "zstd", "3 members"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}

	if got, code := runApp(t, "verify", archive); code != exitSuccess || !strings.Contains(got, "3 members OK") {
		t.Fatalf("verify = %q, %d", got, code)
	}

	dst := filepath.Join(out, "extracted")
	if _, code := runApp(t, "-q", "decompress", archive, dst); code != exitSuccess {
		t.Fatalf("decompress exit code = %d", code)
	}
	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("sub/b.txt = %q, %v", data, err)
	}
}

func TestFailureExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"missing source", []string{"-q", "compress", filepath.Join(dir, "nope"), filepath.Join(dir, "a.zip")}},
		{"missing archive", []string{"-q", "decompress", filepath.Join(dir, "nope.zip"), dir}},
		{"unknown method", []string{"-q", "compress", "-m", "rar", dir, filepath.Join(dir, "b.zip")}},
		{"bad config", []string{"-c", filepath.Join(dir, "missing.yaml"), "compress", dir}},
		{"no arguments", []string{"list"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, code := runApp(t, tt.args...); code != exitFailure {
				t.Fatalf("exit code = %d; want %d", code, exitFailure)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := map[core.Status]int{
		core.StatusSuccess: 0,
		core.StatusFailure: 1,
		core.StatusAborted: 2,
	}
	for status, want := range tests {
		if got := exitCode(status); got != want {
			t.Errorf("exitCode(%v) = %d; want %d", status, got, want)
		}
	}
}

func TestDefaultNames(t *testing.T) {
	if got := defaultArchiveName("/data/photos/"); got != "photos.zip" {
		t.Errorf("defaultArchiveName = %q", got)
	}
	tests := map[string]string{
		"/tmp/photos.zip": "photos",
		"backup":          "backup_extracted",
		"a.b.zip":         "a.b",
	}
	for in, want := range tests {
		if got := defaultExtractDir(in); got != want {
			t.Errorf("defaultExtractDir(%q) = %q; want %q", in, got, want)
		}
	}
}
