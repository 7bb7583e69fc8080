package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/grafton-io/grafton"
	"github.com/grafton-io/grafton/internal/config"
	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/schemafile"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/storage/sqlite"
)

var (
	dbPath     string
	schemaPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "grafton",
	Short: "grafton - Portable backup and restore for relational object graphs",
	Long: `Snapshots a relational store as a graph of natural-key-addressed
records and restores it into any compatible target, surviving surrogate
identity changes across resets.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Apply viper configuration if flags weren't explicitly set
		// Priority: flags > viper (config file + env vars) > defaults
		if err := config.Initialize(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		}
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("db") && dbPath == "" {
			dbPath = config.GetString("db")
		}
		if !cmd.Flags().Changed("schema") && schemaPath == "" {
			schemaPath = config.GetString("schema")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to database (default: discover .grafton/*.db)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to schema file (default: discover .grafton/schema.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// resolveDBPath applies the discovery order for the database path.
func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return grafton.FindDatabasePath()
}

// resolveSchemaPath applies the discovery order for the schema file:
// flag, config, then .grafton/schema.json in the current directory or
// an ancestor.
func resolveSchemaPath() string {
	if schemaPath != "" {
		return schemaPath
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".grafton", schemafile.SchemaFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// openStore loads the registry from the schema file and opens the
// SQLite store. Callers own the returned store.
func openStore() (storage.Store, *registry.Registry, error) {
	sp := resolveSchemaPath()
	if sp == "" {
		return nil, nil, fmt.Errorf("no schema file found (use --schema or run 'grafton init')")
	}
	reg, err := schemafile.LoadRegistry(sp)
	if err != nil {
		return nil, nil, err
	}

	dp := resolveDBPath()
	if dp == "" {
		return nil, nil, fmt.Errorf("no database found (use --db or run 'grafton init')")
	}
	store, err := sqlite.New(dp, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, reg, nil
}

// outputJSON outputs data as pretty-printed JSON
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	// Handle --version flag (in addition to 'version' subcommand)
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("grafton version %s (%s)\n", Version, Build)
			return
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
