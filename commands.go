package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"dirzip/lib"
	"dirzip/pkg/config"
	"dirzip/pkg/core"
	"dirzip/pkg/engine"
	dlog "dirzip/pkg/log"
	"dirzip/pkg/progress"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitAborted = 2
)

// exitCode maps an operation status to the process exit code
func exitCode(s core.Status) int {
	switch s {
	case core.StatusSuccess:
		return exitSuccess
	case core.StatusAborted:
		return exitAborted
	}
	return exitFailure
}

func compressCommand() *cli.Command {
	return &cli.Command{
		Name:      "compress",
		Usage:     "Archive a directory into a ZIP file",
		ArgsUsage: "<directory> [archive.zip]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"m"},
				Usage:   "Compression method: store, deflate, zstd, lz4",
			},
			&cli.IntFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Usage:   "Deflate level from -2 (huffman only) to 9 (best)",
			},
		},
		Action: compressAction,
	}
}

func decompressCommand() *cli.Command {
	return &cli.Command{
		Name:      "decompress",
		Aliases:   []string{"extract"},
		Usage:     "Extract a ZIP file into a directory",
		ArgsUsage: "<archive.zip> [directory]",
		Action:    decompressAction,
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List the members of a ZIP file",
		ArgsUsage: "<archive.zip>",
		Action:    listAction,
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Aliases:   []string{"test"},
		Usage:     "Check the CRC-32 of every member without extracting",
		ArgsUsage: "<archive.zip>",
		Action:    verifyAction,
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "dirzip %s (methods: %s, %s, %s, %s)\n",
				version, core.Store, core.Deflate, core.Zstd, core.LZ4)
			return nil
		},
	}
}

// setup loads the config, applies flag overrides and configures the
// process-wide engine.
func setup(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, cli.Exit(errorStyle.Render(err.Error()), exitFailure)
		}
		cfg = loaded
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := c.String("method"); v != "" {
		cfg.Method = v
	}
	if c.IsSet("level") {
		cfg.Level = c.Int("level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(errorStyle.Render(err.Error()), exitFailure)
	}

	logger, err := dlog.New(dlog.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return nil, cli.Exit(errorStyle.Render(err.Error()), exitFailure)
	}
	lib.Configure(
		engine.WithLogger(logger),
		engine.WithLevel(cfg.Level),
		engine.WithBufferSize(cfg.BufferSize),
		engine.WithProgressBuffer(cfg.ProgressBuffer),
	)
	return cfg, nil
}

func compressAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return cli.Exit("Usage: dirzip compress <directory> [archive.zip]", exitFailure)
	}
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	method, err := cfg.CompressionMethod()
	if err != nil {
		return cli.Exit(errorStyle.Render(err.Error()), exitFailure)
	}

	source := c.Args().Get(0)
	target := c.Args().Get(1)
	if target == "" {
		target = defaultArchiveName(source)
	}
	if !method.Portable() {
		fmt.Fprintln(c.App.ErrWriter, warningStyle.Render(
			fmt.Sprintf("Note: %s archives can only be extracted by dirzip-compatible tools", method)))
	}

	res, summary := runOperation(c, "Compressing "+filepath.Base(source), func() core.Result {
		return lib.BeginCompress(source, target, method)
	})
	return report(c, res, summary, target)
}

func decompressAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return cli.Exit("Usage: dirzip decompress <archive.zip> [directory]", exitFailure)
	}
	if _, err := setup(c); err != nil {
		return err
	}

	source := c.Args().Get(0)
	target := c.Args().Get(1)
	if target == "" {
		target = defaultExtractDir(source)
	}

	res, summary := runOperation(c, "Extracting "+filepath.Base(source), func() core.Result {
		return lib.BeginDecompress(source, target)
	})
	return report(c, res, summary, target)
}

func listAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: dirzip list <archive.zip>", exitFailure)
	}
	members, err := core.List(c.Args().First())
	if err != nil {
		return cli.Exit(errorStyle.Render(err.Error()), exitFailure)
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Name", "Method", "Size", "Compressed", "Modified"})

	var size, compressed uint64
	for _, m := range members {
		method := m.Method.String()
		if m.IsDir {
			method = "-"
		}
		t.AppendRow(table.Row{
			m.Name,
			method,
			progress.FormatSize(m.UncompressedSize),
			progress.FormatSize(m.CompressedSize),
			m.Modified.Local().Format(time.DateTime),
		})
		size += m.UncompressedSize
		compressed += m.CompressedSize
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d members", len(members)), "",
		progress.FormatSize(size), progress.FormatSize(compressed), "",
	})
	t.Render()
	return nil
}

func verifyAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: dirzip verify <archive.zip>", exitFailure)
	}
	members, err := core.Verify(c.Args().First())
	if err != nil {
		return cli.Exit(errorStyle.Render(fmt.Sprintf("%v (after %d good members)", err, len(members))), exitFailure)
	}
	fmt.Fprintln(c.App.Writer, successStyle.Render(fmt.Sprintf("%d members OK", len(members))))
	return nil
}

// runOperation runs op with interrupt handling and, unless --quiet, a
// progress bar. It returns the result and a one-line summary.
func runOperation(c *cli.Context, title string, op func() core.Result) (core.Result, string) {
	stop := abortOnInterrupt()
	defer stop()

	if c.Bool("quiet") {
		res := op()
		return res, fmt.Sprintf("%d entries, %s", res.Processed, progress.FormatSize(uint64(res.Bytes)))
	}

	console := progress.NewConsole(c.App.ErrWriter, title)
	unregister := lib.OnProgress(console)
	defer unregister()

	console.Start()
	res := op()
	return res, console.Finish(res.OK())
}

// abortOnInterrupt turns the first SIGINT or SIGTERM into an abort request
func abortOnInterrupt() (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sig:
			lib.RequestAbort()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func report(c *cli.Context, res core.Result, summary, dest string) error {
	for _, s := range res.Skipped {
		fmt.Fprintln(c.App.ErrWriter, mutedStyle.Render(fmt.Sprintf("skipped %s: %v", s.Path, s.Err)))
	}

	switch res.Status {
	case core.StatusSuccess:
		fmt.Fprintln(c.App.Writer, successStyle.Render("Done: "+dest), mutedStyle.Render(summary))
		return nil
	case core.StatusAborted:
		return cli.Exit(warningStyle.Render(
			fmt.Sprintf("Aborted after %d of %d entries", res.Processed, res.Total)), exitCode(res.Status))
	default:
		return cli.Exit(errorStyle.Render(
			fmt.Sprintf("%s error: %v", res.Kind(), res.Err)), exitCode(res.Status))
	}
}

// defaultArchiveName names the archive after the source directory, in the
// working directory
func defaultArchiveName(source string) string {
	base := filepath.Base(filepath.Clean(source))
	if abs, err := filepath.Abs(source); err == nil {
		base = filepath.Base(abs)
	}
	return base + ".zip"
}

// defaultExtractDir strips the extension from the archive name
func defaultExtractDir(archive string) string {
	base := filepath.Base(archive)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == base {
		name += "_extracted"
	}
	return name
}
