package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage a store's inclusion rules (§4.5.9)",
	}

	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesAddCmd())
	cmd.AddCommand(newRulesRemoveCmd())

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <root>",
		Short: "List a store's inclusion rules in evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			store, err := openExistingStore(ctx, args[0], cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			local, err := store.db.LocalStore(ctx)
			if err != nil {
				return err
			}

			rules, err := store.db.ListInclusionRules(ctx, local.ID)
			if err != nil {
				return err
			}

			for _, r := range rules {
				verb := "include"
				if !r.Include {
					verb = "exclude"
				}

				fmt.Printf("%d\t%s\t%s\n", r.ID, verb, r.Glob)
			}

			return nil
		},
	}
}

func newRulesAddCmd() *cobra.Command {
	var exclude bool

	cmd := &cobra.Command{
		Use:   "add <root> <glob>",
		Short: "Append an inclusion or exclusion rule",
		Long:  "Rules are evaluated in append order; the last matching rule for a path wins (§4.5.9). Pass --exclude to add an exclusion instead of an inclusion.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			store, err := openExistingStore(ctx, args[0], cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			local, err := store.db.LocalStore(ctx)
			if err != nil {
				return err
			}

			id, err := store.db.AppendInclusionRule(ctx, local.ID, args[1], !exclude)
			if err != nil {
				return err
			}

			fmt.Printf("rule %d added\n", id)

			return nil
		},
	}

	cmd.Flags().BoolVar(&exclude, "exclude", false, "add an exclusion rule instead of an inclusion rule")

	return cmd
}

func newRulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <root> <rule-id>",
		Short: "Remove an inclusion rule by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			store, err := openExistingStore(ctx, args[0], cc.Logger)
			if err != nil {
				return err
			}
			defer store.close()

			var ruleID int64
			if _, err := fmt.Sscanf(args[1], "%d", &ruleID); err != nil {
				return fmt.Errorf("invalid rule id %q: %w", args[1], err)
			}

			return store.db.RemoveInclusionRule(ctx, ruleID)
		},
	}
}
