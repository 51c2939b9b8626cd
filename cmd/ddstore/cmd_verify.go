package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arrowstore/ddstore/dedupe"
)

var verifyKeyFlag string

var cmdVerify = &cobra.Command{
	Use:   "verify <index-file>",
	Short: "Re-check stored chunk fingerprints without mutating anything",
	Long: `
The "verify" command re-reads every chunk referenced by an object (or, with
no --key, by every object) and recomputes its SHA-256. It stops at the first
chunk whose bytes no longer match its key and reports an IntegrityError for
it. It never modifies the index or the chunk store.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, args[0])
	},
}

func init() {
	cmdVerify.Flags().StringVar(&verifyKeyFlag, "key", "", "verify only this object (default: every object)")
	cmdRoot.AddCommand(cmdVerify)
}

func runVerify(cmd *cobra.Command, indexPath string) error {
	eng, err := openEngine(cmd.Context(), indexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()
	if verifyKeyFlag != "" {
		return verifyObject(ctx, cmd, eng, verifyKeyFlag)
	}

	start := int64(0)
	for {
		page, err := eng.ListObjects(ctx, "", start, 100)
		if err != nil {
			return err
		}
		for _, o := range page.Objects {
			if err := verifyObject(ctx, cmd, eng, o.Key); err != nil {
				return err
			}
		}
		if page.NextIndexStart == start {
			break
		}
		start = page.NextIndexStart
	}
	return nil
}

func verifyObject(ctx context.Context, cmd *cobra.Command, eng *dedupe.Engine, key string) error {
	if err := eng.Verify(ctx, key); err != nil {
		return err
	}
	cmd.Printf("ok %s\n", key)
	return nil
}
