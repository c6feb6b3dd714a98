package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

type enrichResult struct {
	ID     coconut.RecipeID `json:"id"`
	Title  string           `json:"title"`
	Status coconut.Status   `json:"status"`
	Error  string           `json:"error,omitempty"`
	Recipe coconut.Recipe   `json:"recipe"`
}

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enrich [recipe-id...]",
		Short: "Generate missing images and nutrition for recipes (all recipes when no id is given)",
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

			var mu sync.Mutex
			var escalated []coconut.RecipeID
			onQuota := func(id coconut.RecipeID) {
				mu.Lock()
				escalated = append(escalated, id)
				mu.Unlock()
			}

			controllers := make([]*coconut.Controller, 0, len(recipes))
			for _, r := range recipes {
				ctrl, err := rt.service.NewController(r, onQuota)
				if err != nil {
					return err
				}
				controllers = append(controllers, ctrl)
			}

			// the scheduler does the throttling; every controller starts at once
			g, gctx := errgroup.WithContext(cmd.Context())
			for _, ctrl := range controllers {
				ctrl := ctrl
				g.Go(func() error {
					// a failed recipe does not cancel the others
					_ = ctrl.Enrich(gctx)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			results := make([]enrichResult, 0, len(controllers))
			for _, ctrl := range controllers {
				r := ctrl.Recipe()
				res := enrichResult{ID: r.ID, Title: r.Title, Status: ctrl.Status(), Recipe: r}
				if err := ctrl.Err(); err != nil {
					res.Error = err.Error()
				}
				results = append(results, res)
			}

			if asJSON {
				return writeJSON(cmd, results)
			}
			printEnrichResults(cmd, results)
			if len(escalated) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "AI quota exhausted while enriching %v. Supply an elevated key (COCONUT_ELEVATED_KEY) and retry.\n", escalated)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func selectRecipes(rt *runtime, ids []string) ([]coconut.Recipe, error) {
	if len(ids) == 0 {
		return rt.recipes.All(), nil
	}
	out := make([]coconut.Recipe, 0, len(ids))
	for _, id := range ids {
		r, ok := rt.recipes.Get(coconut.RecipeID(id))
		if !ok {
			return nil, fmt.Errorf("recipe %q not found", id)
		}
		out = append(out, r)
	}
	return out, nil
}

func printEnrichResults(cmd *cobra.Command, results []enrichResult) {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{
			string(res.ID),
			string(res.Status),
			formatImage(res.Recipe.Image),
			formatNutrition(res.Recipe.Nutrition),
			res.Error,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Status", "Image", "Nutrition", "Error"},
		rows,
		nil,
	))
}
