package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <root>",
		Short: "Show a store's data set, known peers, and on-disk size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			store, err := openExistingStore(ctx, args[0], cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			return printStatus(ctx, store, totalSize(ctx, store))
		},
	}
}

// totalSize walks the store's currently indexed tree, stat'ing each file to
// sum its on-disk size. Best-effort: a stat failure just skips that file,
// since this is a summary line, not an integrity check (that's 'scan').
func totalSize(ctx context.Context, store *openStore) int64 {
	local, err := store.db.LocalStore(ctx)
	if err != nil {
		return 0
	}

	var total int64

	var walk func(dir relpath.RelativePath, parentID int64, hasParent bool)
	walk = func(dir relpath.RelativePath, parentID int64, hasParent bool) {
		children, err := store.db.ListChildItems(ctx, local.ID, parentID, hasParent)
		if err != nil {
			return
		}

		for _, c := range children {
			childPath := dir.Join(c.Name)

			if c.Kind == metadatadb.KindFolder {
				walk(childPath, c.PathComponentID, true)
				continue
			}

			if md, err := store.fi.Stat(ctx, childPath); err == nil {
				total += md.Size
			}
		}
	}

	walk(relpath.Root(), 0, false)

	return total
}

func printStatus(ctx context.Context, store *openStore, size int64) error {
	local, err := store.db.LocalStore(ctx)
	if err != nil {
		return err
	}

	stores, err := store.db.ListStores(ctx)
	if err != nil {
		return err
	}

	plain := !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

	if plain {
		fmt.Printf("store: %s (%s)\n", local.HumanName, local.UniqueName)
	} else {
		fmt.Printf("store %q (%s)\n", local.HumanName, local.UniqueName)
	}

	fmt.Printf("clock: %d\n", local.Clock)
	fmt.Printf("known peers: %d\n", len(stores)-1)
	fmt.Printf("on-disk size: %s\n", humanize.Bytes(uint64(size)))

	return nil
}
