// Command kilnctl is an offline administration tool for a kiln database:
// it can repair a database that lost its manifest, destroy one outright,
// and dump the contents of its write-ahead logs for inspection, without
// ever going through the normal Open path.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiln-db/kiln"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/kiln-db/kiln/internal/wal"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "kilnctl",
		Short: "offline administration for a kiln database",
	}
	root.AddCommand(newRepairCmd(), newDestroyCmd(), newDumpCmd())
	return root
}

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <dir>",
		Short: "rebuild a database that lost its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kiln.Repair(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %s\n", args[0])
			return nil
		},
	}
}

func newDestroyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy <dir>",
		Short: "remove every file belonging to a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("kilnctl: refusing to destroy %s without --yes", args[0])
			}
			if err := kiln.Destroy(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm destructive removal")
	return cmd
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <wal-files>",
		Short: "print the batches stored in one or more write-ahead log files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fs := vfs.NewDisk(".")
			for _, arg := range args {
				if err := dumpLog(out, fs, arg); err != nil {
					fmt.Fprintf(cmd.OutOrStderr(), "%s: %v\n", arg, err)
				}
			}
			return nil
		},
	}
}

// dumpLog prints arg's batches one per line, in the same
// "Put(k, v)@seq...Delete(k)@seq" rendering kiln.Batch.DebugString uses,
// stopping at the first unreadable record rather than failing the whole
// file, the way a log salvaged after a crash often ends.
func dumpLog(w io.Writer, fs vfs.FS, name string) error {
	f, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(w, "%s\n", name)

	var reportedErr error
	r := wal.NewReader(f, func(n int, reason error) {
		reportedErr = fmt.Errorf("corrupt record (%d bytes): %w", n, reason)
	}, 0)

	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if reportedErr != nil {
				fmt.Fprintf(w, "  %s\n", reportedErr)
			}
			return err
		}

		b := kiln.BatchFromRecord(rec)
		seq := kiln.RecordBaseSequence(rec)
		fmt.Fprintf(w, "  %s\n", b.DebugString(seq))
	}
}
