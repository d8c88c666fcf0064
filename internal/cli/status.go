package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/pkg/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider health",
	Long:  `Probe every configured provider once and print its health state.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range rt.registry.IDs() {
		probeOnce(ctx, rt, id)

		health, err := rt.registry.HealthOf(id)
		if err != nil {
			continue
		}
		metrics, _ := rt.registry.MetricsOf(id)
		breaker, _ := rt.registry.BreakerState(id)

		fmt.Printf("%-15s %-10s breaker=%s", id, health.Status, breaker)
		if metrics.TotalCalls > 0 {
			fmt.Printf(" calls=%d avg_latency=%.0fms cost=$%.4f",
				metrics.TotalCalls, metrics.AvgLatencyMs, metrics.TotalCost)
		}
		if health.LastError != "" {
			fmt.Printf(" last_error=%q", health.LastError)
		}
		fmt.Println()
	}

	return nil
}

// probeOnce runs a single health check against one provider and records
// the outcome, respecting the breaker's admission gate
func probeOnce(ctx context.Context, rt *runtime, id string) {
	if !rt.registry.Allow(id) {
		return
	}
	adapter, err := rt.registry.Adapter(id)
	if err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	ok := adapter.HealthCheck(probeCtx)
	outcome := registry.Outcome{
		Success: ok,
		Latency: time.Since(start),
	}
	if !ok {
		outcome.Err = fmt.Errorf("health check failed")
	}
	rt.registry.RecordOutcome(id, outcome)
}
