package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatNutrition(n *coconut.Nutrition) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f kcal · Б %.0f · В %.0f · Ж %.0f", n.Kcal, n.Protein, n.Carbs, n.Fat)
}

func formatImage(img coconut.ImageAsset) string {
	if img == "" {
		return "-"
	}
	return fmt.Sprintf("%d bytes", len(img))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
