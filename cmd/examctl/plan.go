package main

import (
	"encoding/json"
	"fmt"

	"examforge/internal/config"
	"examforge/internal/models"
	"examforge/internal/planner"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the batch plan for a section",
	Long:  "Computes the buffered target, batch size and per-source schedule a run would use, without touching any section.",
	RunE:  runPlan,
}

var (
	planTarget     int
	planSources    int
	planPerCallCap int
)

func init() {
	planCmd.Flags().IntVarP(&planTarget, "target", "t", 0, "Requested question count (required)")
	planCmd.Flags().IntVarP(&planSources, "sources", "s", 0, "Number of assigned chapters, 0 for a general section")
	planCmd.Flags().IntVar(&planPerCallCap, "per-call-cap", 0, "Questions per call, defaults to EXAMFORGE_PER_CALL_CAP")

	if err := planCmd.MarkFlagRequired("target"); err != nil {
		panic(fmt.Sprintf("failed to mark target flag as required: %v", err))
	}

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	perCall := cfg.PerCallCap
	if planPerCallCap > 0 {
		perCall = planPerCallCap
	}
	mode := models.GenerationSinglePool
	if planSources > 0 {
		mode = models.GenerationMultiSource
	}

	p, err := planner.Compute(planner.Input{
		TargetCount: planTarget,
		Buffer:      planner.BufferPolicy{Ratio: cfg.BufferRatio, Cap: cfg.BufferCap},
		PerCallCap:  perCall,
		SourceCount: planSources,
		Mode:        mode,
	})
	if err != nil {
		return fmt.Errorf("compute plan: %w", err)
	}

	sources := make([]models.Source, planSources)
	for i := range sources {
		sources[i] = models.Source{SourceID: fmt.Sprintf("chapter-%d", i+1), Order: i + 1}
	}
	out, err := json.MarshalIndent(map[string]any{
		"plan":     p,
		"progress": planner.BuildProgress(p, sources),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
