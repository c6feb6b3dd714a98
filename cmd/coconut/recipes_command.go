package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kokos14v/Ivan-Kosovych/internal/catalog"
)

func newRecipesCommand(_ *commandContext) *cobra.Command {
	var category string
	var query string
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "recipes",
		Short:       "List the recipe catalogue",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			recipes, err := catalog.Default()
			if err != nil {
				return err
			}
			list := recipes.Filter(category, query)
			if asJSON {
				return writeJSON(cmd, list)
			}
			rows := make([][]string, 0, len(list))
			for _, r := range list {
				rows = append(rows, []string{string(r.ID), r.Title, string(r.Category), fmt.Sprint(len(r.Ingredients))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Category", "Ingredients"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", catalog.AllCategories, "Category filter (Сніданки, Обіди, Вечері, Перекуси or Всі)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive title search")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
