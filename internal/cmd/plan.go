package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgecrew/wrangler/internal/config"
	"github.com/forgecrew/wrangler/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with batch execution plans",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a batch file and print its execution order and groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanValidate,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planValidateCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	repo, units, err := loadPlanFile(args[0])
	if err != nil {
		return err
	}

	planner := plan.NewPlanner(cfg.Planner.MaxGroupSize)
	ep, err := planner.ValidateAndOrder(units)
	if err != nil {
		return err
	}

	if repo != "" {
		fmt.Printf("Repository: %s\n", repo)
	}
	fmt.Printf("Units: %d\n\n", len(units))

	fmt.Println("Execution order:")
	for i, u := range ep.Order {
		deps := ""
		if len(u.DependsOn) > 0 {
			deps = "  (after " + strings.Join(u.DependsOn, ", ") + ")"
		}
		fmt.Printf("  %2d. %s  %s%s\n", i+1, u.ID, u.Title, deps)
	}

	fmt.Println("\nParallel groups:")
	for i, group := range ep.Groups {
		ids := make([]string, 0, len(group))
		for _, u := range group {
			ids = append(ids, u.ID)
		}
		fmt.Printf("  group %d: %s\n", i+1, strings.Join(ids, ", "))
	}
	return nil
}
