package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grafton-io/grafton/internal/plan"
	"github.com/grafton-io/grafton/internal/schemafile"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the dependency-ordered restore plan",
	Long: `Print the order in which entity types are exported and restored.
A type always appears after every type it holds a foreign key to;
self-references and many-to-many links don't constrain the order.`,
	Run: func(cmd *cobra.Command, args []string) {
		sp := resolveSchemaPath()
		if sp == "" {
			fmt.Fprintf(os.Stderr, "Error: no schema file found (use --schema or run 'grafton init')\n")
			os.Exit(1)
		}
		reg, err := schemafile.LoadRegistry(sp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		order, err := plan.Order(reg)
		if err != nil {
			var cycle *plan.CycleError
			if errors.As(err, &cycle) {
				fmt.Fprintf(os.Stderr, "Error: dependency cycle across types: %v\n", cycle.Types)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{"order": order})
			return
		}
		for i, typeName := range order {
			fmt.Printf("%d. %s\n", i+1, typeName)
		}
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
