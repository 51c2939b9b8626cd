package main

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/internal/errors"
)

var (
	writeKeyFlag     string
	writeReplaceFlag bool
)

var cmdWrite = &cobra.Command{
	Use:   "write <index-file>",
	Short: "Write an object from stdin",
	Long: `
The "write" command reads object bytes from stdin and stores them under
--key, splitting them into content-defined chunks and deduplicating
against every chunk already in the index.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWrite(cmd, args[0])
	},
}

func init() {
	cmdWrite.Flags().StringVar(&writeKeyFlag, "key", "", "object key (required)")
	cmdWrite.Flags().BoolVar(&writeReplaceFlag, "replace", false, "replace the object if it already exists")
	cmdRoot.AddCommand(cmdWrite)
}

func runWrite(cmd *cobra.Command, indexPath string) error {
	if writeKeyFlag == "" {
		return errors.InvalidArgument("--key is required")
	}

	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, errors.KindStorageError, "read stdin")
	}

	ctx := cmd.Context()
	if writeReplaceFlag {
		err = eng.WriteOrReplace(ctx, writeKeyFlag, int64(len(data)), bytes.NewReader(data))
	} else {
		err = eng.Write(ctx, writeKeyFlag, int64(len(data)), bytes.NewReader(data))
	}
	if err != nil {
		return err
	}

	cmd.Printf("wrote %s (%d bytes)\n", writeKeyFlag, len(data))
	return nil
}
