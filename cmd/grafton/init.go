package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/schemafile"
	"github.com/grafton-io/grafton/internal/storage/sqlite"
)

// starterSchema is written by init when the project has no schema yet.
// It is a scaffold: edit the types to match your domain.
var starterSchema = &schemafile.Schema{
	Version: "1",
	Types: []registry.EntityTypeDescriptor{
		{
			Name:         "role",
			Fields:       []string{"name"},
			NaturalKey:   []string{"name"},
			AutoIdentity: true,
		},
		{
			Name:   "user",
			Fields: []string{"username", "email"},
			ForeignKeys: []registry.ForeignKeyField{
				{Field: "role", Target: "role"},
			},
			NaturalKey:   []string{"username"},
			AutoIdentity: true,
		},
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize grafton in the current directory",
	Long: `Initialize grafton in the current directory by creating a .grafton/
directory with a schema file and database.

An existing schema file can be supplied with --schema; otherwise a
starter schema is written for you to edit.`,
	Run: func(cmd *cobra.Command, _ []string) {
		quiet, _ := cmd.Flags().GetBool("quiet")

		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}
		graftonDir := filepath.Join(cwd, ".grafton")
		if err := os.MkdirAll(graftonDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", graftonDir, err)
			os.Exit(1)
		}

		// Schema: --schema wins, then an existing project schema, then
		// the starter scaffold.
		destSchema := filepath.Join(graftonDir, schemafile.SchemaFileName)
		switch {
		case schemaPath != "":
			s, err := schemafile.Load(schemaPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := s.Save(destSchema); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		case fileExists(destSchema):
			// Keep what's there.
		default:
			if err := starterSchema.Save(destSchema); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		reg, err := schemafile.LoadRegistry(destSchema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid schema: %v\n", err)
			os.Exit(1)
		}

		dest := dbPath
		if dest == "" {
			dest = filepath.Join(graftonDir, "grafton.db")
		}
		store, err := sqlite.New(dest, reg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create database: %v\n", err)
			os.Exit(1)
		}
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"status": "initialized",
				"db":     dest,
				"schema": destSchema,
			})
			return
		}
		if !quiet {
			green := color.New(color.FgGreen)
			green.Printf("✓ Initialized grafton in %s\n", graftonDir)
			fmt.Printf("  Database: %s\n", dest)
			fmt.Printf("  Schema:   %s\n", destSchema)
			fmt.Printf("\nEdit the schema to declare your entity types, then run 'grafton export'.\n")
		}
	},
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	initCmd.Flags().Bool("quiet", false, "Suppress output")
	rootCmd.AddCommand(initCmd)
}
