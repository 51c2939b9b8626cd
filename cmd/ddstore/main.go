// Command ddstore drives the dedupe engine over a local SQLite index and a
// pluggable chunk store through a set of cobra subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/arrowstore/ddstore/internal/errors"
)

func init() {
	// don't import go.uber.org/automaxprocs's logger to keep stdout clean
	_, _ = maxprocs.Set()
}

// globalOptions holds the flags shared by every subcommand.
type globalOptions struct {
	ChunkDir string
	Verbose  bool
}

var gopts globalOptions

var cmdRoot = &cobra.Command{
	Use:   "ddstore <index-file> <command> [flags]",
	Short: "Content-addressed deduplication engine",
	Long: `
ddstore splits named objects into content-defined chunks, stores each
chunk exactly once, and reconstructs, streams, or deletes objects through
a SQLite index.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func init() {
	cmdRoot.PersistentFlags().StringVar(&gopts.ChunkDir, "chunks", "", "chunk storage directory (local path or s3://endpoint/bucket/prefix)")
	cmdRoot.PersistentFlags().BoolVarP(&gopts.Verbose, "verbose", "v", false, "print write/delete progress events to stderr")
}

func main() {
	// Accept "ddstore <index-file> <command>" by moving a subcommand name
	// given second in front of the index file.
	args := os.Args[1:]
	if len(args) >= 2 {
		first, _, _ := cmdRoot.Find(args[:1])
		second, _, _ := cmdRoot.Find(args[1:2])
		if first == cmdRoot && second != nil && second != cmdRoot {
			args[0], args[1] = args[1], args[0]
		}
	}
	cmdRoot.SetArgs(args)

	if err := cmdRoot.Execute(); err != nil {
		if errors.KindOf(err) != errors.KindNone {
			fmt.Fprintf(os.Stderr, "ddstore: %s: %v\n", errors.KindOf(err), err)
		} else {
			fmt.Fprintf(os.Stderr, "ddstore: %v\n", err)
		}
		os.Exit(1)
	}
}
