package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/internal/errors"
)

var getKeyFlag string

var cmdGet = &cobra.Command{
	Use:   "get <index-file>",
	Short: "Write an object's bytes to stdout",
	Args:  cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet(cmd, args[0])
	},
}

func init() {
	cmdGet.Flags().StringVar(&getKeyFlag, "key", "", "object key (required)")
	cmdRoot.AddCommand(cmdGet)
}

func runGet(cmd *cobra.Command, indexPath string) error {
	if getKeyFlag == "" {
		return errors.InvalidArgument("--key is required")
	}

	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	data, _, err := eng.Get(cmd.Context(), getKeyFlag)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)
	return err
}
