// Command dirzip archives a directory tree into a ZIP file and extracts it
// again.
//
// Usage:
//
//	dirzip [global options] compress <directory> [archive.zip]
//	dirzip [global options] decompress <archive.zip> [directory]
//	dirzip list <archive.zip>
//	dirzip verify <archive.zip>
//
// Exit codes:
//   - 0: success
//   - 1: failure
//   - 2: aborted (interrupt received)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	app := newApp()
	app.ExitErrHandler = exitErrHandler

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitFailure)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "dirzip",
		Usage:   "Compress directories into ZIP archives and extract them",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"DIRZIP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: console or json",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Hide the progress bar",
			},
		},
		Commands: []*cli.Command{
			compressCommand(),
			decompressCommand(),
			listCommand(),
			verifyCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler prints the message of a cli.Exit error and exits with its code
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFailure)
}
