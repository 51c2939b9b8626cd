package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/internal/errors"
)

var existsKeyFlag string

var cmdExists = &cobra.Command{
	Use:               "exists <index-file>",
	Short:             "Check whether an object exists (exit 0 if present)",
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExists(cmd, args[0])
	},
}

func init() {
	cmdExists.Flags().StringVar(&existsKeyFlag, "key", "", "object key (required)")
	cmdRoot.AddCommand(cmdExists)
}

func runExists(cmd *cobra.Command, indexPath string) error {
	if existsKeyFlag == "" {
		return errors.InvalidArgument("--key is required")
	}

	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	ok, err := eng.Exists(cmd.Context(), existsKeyFlag)
	if err != nil {
		return err
	}
	if !ok {
		os.Exit(1)
	}
	return nil
}
