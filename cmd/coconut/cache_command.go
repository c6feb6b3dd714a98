package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persistent asset cache",
	}
	cacheCmd.AddCommand(newCacheShowCommand(ctx))
	return cacheCmd
}

func newCacheShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [recipe-id...]",
		Short: "Show cached images and nutrition (all recipes when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime(cmd.Context(), cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			recipes, err := selectRecipes(rt, args)
			if err != nil {
				return err
			}

			type entry struct {
				ID        coconut.RecipeID   `json:"id"`
				Image     coconut.ImageAsset `json:"image,omitempty"`
				Nutrition *coconut.Nutrition `json:"nutrition,omitempty"`
			}
			entries := make([]entry, 0, len(recipes))
			for _, r := range recipes {
				e := entry{ID: r.ID}
				img, err := rt.storage.GetImage(cmd.Context(), r.ID)
				switch {
				case err == nil:
					e.Image = img
				case !errors.Is(err, coconut.ErrNotFound):
					return fmt.Errorf("read image %s: %w", r.ID, err)
				}
				meta, err := rt.storage.GetMeta(cmd.Context(), r.ID)
				switch {
				case err == nil && meta != nil:
					n := meta.Nutrition
					e.Nutrition = &n
				case err != nil && !errors.Is(err, coconut.ErrNotFound):
					return fmt.Errorf("read meta %s: %w", r.ID, err)
				}
				entries = append(entries, e)
			}

			if asJSON {
				return writeJSON(cmd, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{string(e.ID), formatImage(e.Image), formatNutrition(e.Nutrition)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Image", "Nutrition"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
