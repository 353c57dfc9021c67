package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conditionsCmd = &cobra.Command{
	Use:   "conditions",
	Short: "List the known pest and disease conditions",
	Long: `List every condition in the active agronomic tables together with its
base severity and action thresholds. Includes override entries when
tables.override_path is configured.`,
	RunE: runConditions,
}

func init() {
	rootCmd.AddCommand(conditionsCmd)
}

func runConditions(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := buildTables(cfg)
	if err != nil {
		return err
	}

	active := store.Active()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-28s %8s %8s %8s\n", "CONDITION", "BASE", "ACTION", "URGENT")
	for _, name := range active.ConditionNames() {
		action, urgent := active.Thresholds(name)
		fmt.Fprintf(out, "%-28s %8d %8.0f %8.0f\n", name, active.BaseSeverity(name), action, urgent)
	}
	return nil
}
