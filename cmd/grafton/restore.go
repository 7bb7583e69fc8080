package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/grafton-io/grafton/internal/audit"
	"github.com/grafton-io/grafton/internal/config"
	"github.com/grafton-io/grafton/internal/conflict"
	"github.com/grafton-io/grafton/internal/lockfile"
	"github.com/grafton-io/grafton/internal/restore"
	"github.com/grafton-io/grafton/internal/snapshot"
	"github.com/grafton-io/grafton/internal/types"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Restore a snapshot into the store",
	Long: `Restore a snapshot file into the target store. Records are applied
in dependency order; foreign keys resolve through natural keys, so the
target's surrogate identities need not match the source's.

Restoration is best-effort per record: records whose references cannot
be resolved are reported as failed while the rest proceed. Use
--dry-run to preview the outcome without committing anything.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		refTypesFlag, _ := cmd.Flags().GetString("reference-types")

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		records, err := snapshot.Read(bytes.NewReader(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, reg, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()

		// One restore per database at a time.
		lockPath := resolveDBPath() + ".lock"
		lock, err := lockfile.Acquire(lockPath)
		if err != nil {
			if errors.Is(err, lockfile.ErrLocked) {
				if _, pid := lockfile.Holder(lockPath); pid != 0 {
					fmt.Fprintf(os.Stderr, "Error: another restore is running (pid %d)\n", pid)
				} else {
					fmt.Fprintf(os.Stderr, "Error: another restore is running\n")
				}
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		defer func() { _ = lock.Close() }()

		refTypes := referenceTypeSet(refTypesFlag)
		ctx := context.Background()
		entries, mode, err := conflict.Detect(ctx, reg, store, records, refTypes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		opts := restore.Options{Mode: mode, Remap: entries, DryRun: dryRun}
		if logPath := config.GetString("audit-log"); logPath != "" {
			auditLog := audit.New(logPath)
			defer func() { _ = auditLog.Close() }()
			opts.Auditor = auditLog
		}

		report, err := restore.Restore(ctx, reg, store, records, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(report)
			return
		}
		printReport(report)
	},
}

// referenceTypeSet merges the --reference-types flag with the
// configured default.
func referenceTypeSet(flagValue string) map[string]bool {
	names := config.GetStringSlice("reference-types")
	if flagValue != "" {
		names = nil
		for _, n := range strings.Split(flagValue, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func printReport(report *types.RestoreReport) {
	label := "Restored"
	if report.DryRun {
		label = "Would restore"
	}
	if report.Mode == types.ModeRemap {
		fmt.Printf("Remapped %d pre-existing reference entities\n", report.Skipped)
	}
	fmt.Printf("%s %d/%d records (%d created, %d updated, %d skipped)\n",
		label, report.Succeeded(), report.TotalRecords,
		report.Created, report.Updated, report.Skipped)

	for _, w := range report.Warnings {
		color.New(color.FgYellow).Printf("  warning: %s\n", w)
	}

	if report.Clean() {
		color.New(color.FgGreen).Println("✓ No failures")
		return
	}
	red := color.New(color.FgRed)
	red.Printf("✗ %d records failed:\n", len(report.Failed))
	for _, f := range report.Failed {
		red.Printf("  %s %s: %s", f.Type, f.Key, f.Reason)
		if f.Detail != "" {
			red.Printf(" (%s)", f.Detail)
		}
		red.Println()
	}
}

func init() {
	restoreCmd.Flags().Bool("dry-run", false, "Run the restore inside a rolled-back transaction")
	restoreCmd.Flags().String("reference-types", "", "Comma-separated types that may pre-exist in a reset target")
	rootCmd.AddCommand(restoreCmd)
}
