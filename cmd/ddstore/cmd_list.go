package main

import (
	"github.com/spf13/cobra"

	humanize "github.com/dustin/go-humanize"
)

var (
	listPrefixFlag string
	listStartFlag  int64
	listMaxFlag    int
)

var cmdList = &cobra.Command{
	Use:               "list <index-file>",
	Short:             "List stored objects",
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, args[0])
	},
}

func init() {
	cmdList.Flags().StringVar(&listPrefixFlag, "prefix", "", "only list keys starting with this prefix")
	cmdList.Flags().Int64Var(&listStartFlag, "start", 0, "pagination cursor (0-based internal id)")
	cmdList.Flags().IntVar(&listMaxFlag, "max", 100, "page size, 1-100")
	cmdRoot.AddCommand(cmdList)
}

func runList(cmd *cobra.Command, indexPath string) error {
	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	page, err := eng.ListObjects(cmd.Context(), listPrefixFlag, listStartFlag, listMaxFlag)
	if err != nil {
		return err
	}

	for _, o := range page.Objects {
		cmd.Printf("%s\t%s\t%d chunks\t%s\n",
			o.Key, humanize.Bytes(uint64(o.OriginalLength)), o.ChunkCount, o.CreatedUTC.Format("2006-01-02T15:04:05Z"))
	}
	if page.NextIndexStart != listStartFlag {
		cmd.Printf("# next: --start=%d\n", page.NextIndexStart)
	}
	return nil
}
