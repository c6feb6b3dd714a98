package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <photo>",
		Short: "Estimate calories and a health score for a meal photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			photo, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}

			rt, err := ctx.buildRuntime(cmd.Context(), cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			analysis, err := rt.service.AnalyzeMealPhoto(cmd.Context(), photo)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, analysis)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", analysis.DishName, analysis.PortionGuess)
			fmt.Fprintf(out, "%.0f kcal · Б %.0f г · В %.0f г · Ж %.0f г\n",
				analysis.CaloriesKcal, analysis.ProteinG, analysis.CarbsG, analysis.FatG)
			fmt.Fprintf(out, "Health score: %.1f/10 %s\n", analysis.HealthScore, analysis.HealthLabel)
			if analysis.WhyShort != "" {
				fmt.Fprintln(out, analysis.WhyShort)
			}
			if analysis.Tips != "" {
				fmt.Fprintf(out, "Tips: %s\n", analysis.Tips)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
