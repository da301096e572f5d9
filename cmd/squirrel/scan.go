package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/data-squirrel/internal/scan"
)

func newScanCmd() *cobra.Command {
	var detectBitrot bool

	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Perform a full filesystem scan (§4.6)",
		Long:  "Walks root's on-disk tree, reconciling every file and folder against the metadata database and tombstoning anything that has disappeared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			root := args[0]

			store, err := openExistingStore(cmd.Context(), root, cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			if !cmd.Flags().Changed("detect-bitrot") {
				detectBitrot = cc.Cfg.Scan.DetectBitrot
			}

			scanner := scan.New(store.fi, store.db, detectBitrot, cc.Logger)

			result, err := scanner.PerformFullScan(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			fmt.Printf("indexed %d, changed %d, new %d, deleted %d\n",
				result.Indexed, result.Changed, result.New, result.Deleted)

			for _, issue := range result.Issues {
				fmt.Printf("issue: %s %s: %s\n", issue.Kind, issue.Path, issue.Message)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&detectBitrot, "detect-bitrot", false, "re-hash unchanged files to catch silent corruption (overrides config)")

	return cmd
}
