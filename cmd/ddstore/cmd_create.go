package main

import (
	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/chunker"
	"github.com/arrowstore/ddstore/dedupe"
	"github.com/arrowstore/ddstore/internal/index/sqlite"
)

var createParamsFlag string

var cmdCreate = &cobra.Command{
	Use:   "create <index-file>",
	Short: "Create a new index with chunking parameters",
	Long: `
The "create" command initializes a new SQLite index and persists the four
chunking parameters (min,max,shift,boundary). Run this once per index
before write/get/del/list/exists/stats.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(cmd, args[0])
	},
}

func init() {
	cmdCreate.Flags().StringVar(&createParamsFlag, "params", "32768,262144,2048,2", "min,max,shift,boundary")
	cmdRoot.AddCommand(cmdCreate)
}

func runCreate(cmd *cobra.Command, indexPath string) error {
	params := chunker.DefaultParams
	if createParamsFlag != "" {
		p, err := parseParams(createParamsFlag)
		if err != nil {
			return err
		}
		params = p
	}

	idx, err := sqlite.Open(indexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	store, err := openStore(gopts.ChunkDir)
	if err != nil {
		return err
	}

	eng, err := dedupe.Create(cmd.Context(), idx, store, params)
	if err != nil {
		return err
	}
	defer eng.Close()

	cmd.Printf("created index %s (min=%d max=%d shift=%d boundary=%d)\n",
		indexPath, params.MinChunkSize, params.MaxChunkSize, params.ShiftCount, params.BoundaryCheckBytes)
	return nil
}
