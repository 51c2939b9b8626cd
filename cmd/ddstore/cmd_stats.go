package main

import (
	"github.com/spf13/cobra"

	humanize "github.com/dustin/go-humanize"
)

var cmdStats = &cobra.Command{
	Use:               "stats <index-file>",
	Short:             "Print deduplication statistics",
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd, args[0])
	},
}

func init() {
	cmdRoot.AddCommand(cmdStats)
}

func runStats(cmd *cobra.Command, indexPath string) error {
	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	s, err := eng.IndexStats(cmd.Context())
	if err != nil {
		return err
	}

	cmd.Printf("objects:       %d\n", s.Objects)
	cmd.Printf("chunks:        %d\n", s.Chunks)
	cmd.Printf("logical size:  %s\n", humanize.Bytes(uint64(s.LogicalBytes)))
	cmd.Printf("physical size: %s\n", humanize.Bytes(uint64(s.PhysicalBytes)))
	if s.RatioX > 0 {
		cmd.Printf("dedup ratio:   %.2fx (%.1f%% saved)\n", s.RatioX, s.RatioPercent)
	}
	return nil
}
