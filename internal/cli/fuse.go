package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	fuseProviders string
	fuseJSON      bool
)

var fuseCmd = &cobra.Command{
	Use:   "fuse <prompt>",
	Short: "Query several providers and pick a consensus answer",
	Long: `Send the same prompt to several providers concurrently, cluster the
answers by textual similarity and return the majority group's best
answer. Low agreement is reported as a warning, not a failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runFuse,
}

func init() {
	fuseCmd.Flags().StringVar(&fuseProviders, "providers", "", "comma-separated provider ids (default: quality strategy's top picks)")
	fuseCmd.Flags().BoolVar(&fuseJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(!fuseJSON)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.start(); err != nil {
		return err
	}

	var providers []string
	if fuseProviders != "" {
		for _, p := range strings.Split(fuseProviders, ",") {
			if p = strings.TrimSpace(p); p != "" {
				providers = append(providers, p)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := rt.fuser.Fuse(ctx, args[0], providers)
	if err != nil {
		return err
	}

	if fuseJSON {
		out, jerr := json.MarshalIndent(result, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(result.Consensus)
	fmt.Println()
	fmt.Printf("Agreement: %.0f%% across %d responses\n", result.AgreementRatio*100, len(result.Responses))
	if result.LowConfidence {
		fmt.Println("Warning: agreement below the configured minimum")
	}
	fmt.Printf("Cost: $%.4f\n", result.TotalCost)

	return nil
}
