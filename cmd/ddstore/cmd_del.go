package main

import (
	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/internal/errors"
)

var delKeyFlag string

var cmdDel = &cobra.Command{
	Use:               "del <index-file>",
	Short:             "Delete an object and garbage-collect its private chunks",
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDel(cmd, args[0])
	},
}

func init() {
	cmdDel.Flags().StringVar(&delKeyFlag, "key", "", "object key (required)")
	cmdRoot.AddCommand(cmdDel)
}

func runDel(cmd *cobra.Command, indexPath string) error {
	if delKeyFlag == "" {
		return errors.InvalidArgument("--key is required")
	}

	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Delete(cmd.Context(), delKeyFlag); err != nil {
		return err
	}

	cmd.Printf("deleted %s\n", delKeyFlag)
	return nil
}
