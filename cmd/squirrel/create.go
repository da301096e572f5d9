package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	var humanName string

	cmd := &cobra.Command{
		Use:   "create <root>",
		Short: "Initialize a new data store at root",
		Long:  "Creates the metadata directory, acquires the exclusive lock, and records a single local data_stores row with a fresh, globally unique store name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			root := args[0]

			store, err := createStore(cmd.Context(), root, humanName, cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			local, err := store.db.LocalStore(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("created store %q (%s) at %s\n", local.HumanName, local.UniqueName, root)

			return nil
		},
	}

	cmd.Flags().StringVar(&humanName, "name", "", "human-readable name for this store (default: the root directory's base name)")

	return cmd
}
