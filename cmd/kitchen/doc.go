package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// docCmd implements spec §6's "Documentation" invocation surface: a
// read-only traversal of the merged tree producing a structured
// description of a recipe's inputs, outputs, and step tree.
func docCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doc <document> [recipe]",
		Short: "Print a recipe's inputs, outputs, and step tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := runConfig()
			logger := newLogger()

			doc, err := loadDocument([]string{args[0]}, cfg.SearchPaths, logger)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			recipeName := ""
			if len(args) > 1 {
				recipeName = args[1]
			}
			r, err := doc.selectRecipe(recipeName)
			if err != nil {
				return err
			}

			fmt.Printf("recipe %s\n", r.Name)
			if r.Info != "" {
				fmt.Printf("  %s\n", r.Info)
			}
			fmt.Println("inputs:")
			for name, e := range r.Inputs {
				fmt.Printf("  %-24s %-12s required=%v\n", name, e.DType.Name, e.Required)
			}
			fmt.Println("outputs:")
			for name, e := range r.Outputs {
				fmt.Printf("  %-24s %-12s required=%v\n", name, e.DType.Name, e.Required)
			}
			fmt.Println("steps:")
			for _, s := range r.Steps {
				target := s.Cab
				if target == "" {
					target = "recipe:" + s.Recipe
				}
				fmt.Printf("  %-24s -> %s\n", s.Label, target)
			}
			return nil
		},
	}
}
