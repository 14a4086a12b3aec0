package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List video categories assignable in a region",
		RunE:  runCategories,
	}

	cmd.Flags().String("region", "US", "ISO 3166-1 region code")

	return cmd
}

func runCategories(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	region, _ := cmd.Flags().GetString("region")

	mgr, _ := newAuthManager(cc)

	api, err := newDataAPI(ctx, cc, mgr)
	if err != nil {
		return err
	}

	cats, err := api.ListCategories(ctx, region)
	if err != nil {
		return fmt.Errorf("listing categories: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cats)
	}

	rows := make([][]string, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, []string{c.ID, c.Title})
	}

	printTable(os.Stdout, []string{"ID", "TITLE"}, rows)

	return nil
}
