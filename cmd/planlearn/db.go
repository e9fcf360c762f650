package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/hyperengineering/planlearn/internal/config"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/spf13/cobra"
)

var (
	databaseOverride string
	resetForce       bool
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database schema",
	Long:  "Apply or reset database migrations without running the server.",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all data and re-create the schema",
	Long:  "Roll back every migration and apply them again. All data is lost. Requires --force or interactive confirmation.",
	Args:  cobra.NoArgs,
	RunE:  runDBReset,
}

func init() {
	dbCmd.PersistentFlags().StringVar(&databaseOverride, "database", "",
		"Database URL or SQLite path (overrides config and DATABASE_URL)")
	dbResetCmd.Flags().BoolVar(&resetForce, "force", false,
		"Skip confirmation prompt")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}

// openStore opens the configured database, honoring --database.
// Opening a store applies pending migrations.
func openStore() (*store.SQLStore, error) {
	dsn := databaseOverride
	if dsn == "" {
		var err error
		if dsn, err = config.LoadDatabaseURL(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return store.Open(dsn)
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := store.MigrationVersion(db.DB(), db.Dialect())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s schema at version %d\n",
		color.New(color.FgGreen).Sprint("✓"), db.Dialect(), version)
	return nil
}

func runDBReset(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if !resetForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "%s This will permanently delete all users' data.\n",
			color.New(color.FgRed).Sprint("WARNING:"))
		fmt.Fprint(errOut, "Type 'reset' to confirm: ")

		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(input) != "reset" {
			fmt.Fprintln(errOut, "Aborted.")
			return nil
		}
	}

	if err := store.ResetMigrations(db.DB(), db.Dialect()); err != nil {
		return err
	}
	version, err := store.MigrationVersion(db.DB(), db.Dialect())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s database reset, schema at version %d\n",
		color.New(color.FgYellow).Sprint("!"), version)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
