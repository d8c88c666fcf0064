package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/pkg/executor"
	"github.com/maestro-cli/maestro/pkg/router"
)

var (
	runStrategy string
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a task plan",
	Long: `Execute a JSON task plan. Items run level by level following their
dependencies; failed items block only their dependents, independent
branches continue.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "routing strategy override (cost, performance, quality, balanced)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(runCmd)
}

// planFile is the on-disk plan format accepted by `maestro run`
type planFile struct {
	Description string              `json:"description"`
	Items       []executor.WorkItem `json:"items"`
}

func runRun(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse plan file: %w", err)
	}
	if pf.Description == "" {
		pf.Description = args[0]
	}

	plan, err := executor.NewPlan(pf.Description, pf.Items)
	if err != nil {
		return err
	}

	rt, err := newRuntime(!runJSON)
	if err != nil {
		return err
	}
	defer rt.close()

	if runStrategy != "" {
		if err := rt.router.SetStrategy(router.Strategy(runStrategy)); err != nil {
			return err
		}
	}

	if err := rt.start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := rt.engine.Execute(ctx, plan)
	if err != nil && result == nil {
		return err
	}

	if runJSON {
		out, jerr := json.MarshalIndent(result, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Println(string(out))
	} else {
		printResult(rt, result)
	}

	if err != nil {
		if errors.Is(err, executor.ErrAllProvidersExhausted) {
			return fmt.Errorf("all providers exhausted for every item")
		}
		return err
	}
	if result.Status == executor.StatusFailed {
		return fmt.Errorf("plan finished with failures")
	}
	return nil
}

func printResult(rt *runtime, result *executor.PlanResult) {
	ids := make([]string, 0, len(result.Items))
	for id := range result.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	totalCost := 0.0
	for _, id := range ids {
		item := result.Items[id]
		line := fmt.Sprintf("%-20s %-12s", id, item.Status)
		if item.Provider != "" {
			line += fmt.Sprintf(" %s/%s", item.Provider, item.Model)
		}
		if item.Cached {
			line += " (cached)"
		}
		if item.Error != "" {
			line += " " + item.Error
		}
		fmt.Println(line)
		totalCost += item.Cost
	}

	fmt.Printf("\nStatus: %s\n", result.Status)
	fmt.Printf("Progress: %d/%d (%.0f%%)\n", result.Progress.Completed, result.Progress.Total, result.Progress.Percent)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Cost: $%.4f\n", totalCost)

	if limit := rt.cfg.Routing.BudgetLimitUSD; limit > 0 && totalCost > limit {
		fmt.Printf("Warning: run cost $%.4f exceeded budget limit $%.4f\n", totalCost, limit)
	}
}
