package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/grafton-io/grafton/internal/export"
	"github.com/grafton-io/grafton/internal/snapshot"
)

// countRecordsInSnapshot counts records in an existing snapshot file.
// A file that cannot be parsed counts as zero; the safety check only
// protects data we can still read.
func countRecordsInSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	records, err := snapshot.Read(bytes.NewReader(data))
	if err != nil {
		return 0, nil
	}
	return len(records), nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the store as a portable snapshot",
	Long: `Export the full object graph as JSON Lines (one record per line),
in dependency order. Foreign keys are rewritten as natural-key tuples
so the snapshot survives surrogate identity changes in the target.

Output to stdout by default, or use -o flag for file output.`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		store, reg, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		records, err := export.Export(ctx, reg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Safety check: prevent exporting an empty store over a
		// non-empty snapshot file
		if len(records) == 0 && output != "" && !force {
			existingCount, err := countRecordsInSnapshot(output)
			if err != nil {
				if !os.IsNotExist(err) {
					fmt.Fprintf(os.Stderr, "Warning: failed to read existing snapshot: %v\n", err)
				}
			} else if existingCount > 0 {
				fmt.Fprintf(os.Stderr, "Error: refusing to export empty store over non-empty snapshot\n")
				fmt.Fprintf(os.Stderr, "  Store has 0 records, snapshot has %d records\n", existingCount)
				fmt.Fprintf(os.Stderr, "  This would result in data loss!\n")
				fmt.Fprintf(os.Stderr, "Hint: Use --force to override this safety check\n")
				os.Exit(1)
			}
		}

		if output == "" {
			if err := snapshot.Write(os.Stdout, records); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// Write to a temp file in the same directory, then rename, so
		// a crash mid-write never leaves a truncated snapshot.
		tmp, err := os.CreateTemp(filepath.Dir(output), ".grafton-export-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		tmpPath := tmp.Name()
		if err := snapshot.Write(tmp, records); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.Rename(tmpPath, output); err != nil {
			os.Remove(tmpPath)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"output":  output,
				"records": len(records),
			})
		} else {
			fmt.Printf("Exported %d records to %s\n", len(records), output)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().Bool("force", false, "Skip the empty-export safety check")
	rootCmd.AddCommand(exportCmd)
}
