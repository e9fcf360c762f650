package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/types"
	"github.com/hyperengineering/planlearn/internal/validation"
	"github.com/spf13/cobra"
)

var (
	patternsJSONOutput bool
	patternsTaskType   string
	patternsLimit      int
)

var patternsCmd = &cobra.Command{
	Use:   "patterns <user_id>",
	Short: "List the patterns learned for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatterns,
}

func init() {
	patternsCmd.Flags().StringVar(&databaseOverride, "database", "",
		"Database URL or SQLite path (overrides config and DATABASE_URL)")
	patternsCmd.Flags().BoolVar(&patternsJSONOutput, "json", false,
		"Output in JSON format")
	patternsCmd.Flags().StringVar(&patternsTaskType, "task-type", "",
		"Only patterns mentioning this task type")
	patternsCmd.Flags().IntVar(&patternsLimit, "limit", 20,
		"Maximum number of patterns")
}

func runPatterns(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if errs := validation.ValidateUserID("user_id", userID); len(errs) > 0 {
		return fmt.Errorf("invalid user id: %s", errs[0].Message)
	}
	ctx := context.Background()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	mem, err := memory.NewManager(db, nil, nil)
	if err != nil {
		return err
	}
	defer mem.Close()

	patterns, err := mem.Patterns(ctx, userID, patternsTaskType, patternsLimit)
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}
	if patterns == nil {
		patterns = []types.Pattern{}
	}

	if patternsJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"entity_id": userID,
			"patterns":  patterns,
			"count":     len(patterns),
		})
	}

	if len(patterns) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No patterns learned for %s yet.\n", userID)
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "USED\tEFFECTIVENESS\tLAST USED\tPATTERN")
	for _, p := range patterns {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			p.TimesUsed,
			effectivenessLabel(p.Effectiveness),
			p.LastUsed.Format("2006-01-02 15:04"),
			p.Pattern,
		)
	}
	return w.Flush()
}

func effectivenessLabel(e string) string {
	switch e {
	case "high":
		return color.New(color.FgGreen).Sprint(e)
	case "medium":
		return color.New(color.FgYellow).Sprint(e)
	case "":
		return "-"
	default:
		return e
	}
}
