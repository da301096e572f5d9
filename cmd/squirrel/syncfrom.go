package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/syncengine"
)

func newSyncFromCmd() *cobra.Command {
	var (
		detectBitrot   bool
		cleanDeletions bool
	)

	cmd := &cobra.Command{
		Use:   "sync-from <local-root> <sender-root>",
		Short: "Pull everything reachable from a sender store into a local one (§4.7)",
		Long: `Pulls all content from the store at sender-root into the store at
local-root, one direction only. Run it again with the roots swapped to
converge the other way. The sender's own disk must already match its
metadata database (§4.7.2) — run 'squirrel scan' there first if unsure.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			local, err := openExistingStore(ctx, args[0], cc.Logger)
			if err != nil {
				return err
			}
			defer local.close()

			remote, err := openExistingStore(ctx, args[1], cc.Logger)
			if err != nil {
				return err
			}
			defer remote.close()

			if !cmd.Flags().Changed("detect-bitrot") {
				detectBitrot = cc.Cfg.Scan.DetectBitrot
			}

			sender, err := syncengine.NewLocalSender(ctx, local.db, remote.db, remote.fi, detectBitrot)
			if err != nil {
				return fmt.Errorf("preparing sender: %w", err)
			}

			localStore, err := local.db.LocalStore(ctx)
			if err != nil {
				return err
			}

			session := syncengine.NewSession(local.db, local.fi, localStore.ID, sender, cc.Cfg.Safety.MaxDeletePercent, cc.Logger)

			result, err := session.SyncFrom(ctx, relpath.Root(), cleanDeletions, cc.Cfg.Safety.TombstoneRetentionDays)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			fmt.Printf("transferred %d, deleted %d, conflicts %d\n",
				result.Transferred, result.Deleted, len(result.Conflicts))

			for _, c := range result.Conflicts {
				fmt.Printf("conflict: %s %s\n", c.Kind, c.Path)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&detectBitrot, "detect-bitrot", false, "re-hash unchanged sender files during pre-flight (overrides config)")
	cmd.Flags().BoolVar(&cleanDeletions, "clean", true, "run post-sync tombstone cleanup on the local store (§4.7.6)")

	return cmd
}
