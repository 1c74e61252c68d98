package main

import (
	"context"
	"fmt"
	"time"

	"examforge/internal/config"
	"examforge/internal/logger"
	"examforge/internal/reaper"
	"examforge/internal/storage"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap [section-id]",
	Short: "Reclaim generation runs that stopped reporting progress",
	Long:  "Rolls a stale generating section back to ready. With --all every stale section is swept; a live run is never touched.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReap,
}

var reapAll bool

func init() {
	reapCmd.Flags().BoolVar(&reapAll, "all", false, "Sweep every stale section")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	if reapAll == (len(args) == 1) {
		return fmt.Errorf("pass either a section id or --all")
	}
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	rp := reaper.New(storage.NewStore(db), cfg.StaleThreshold(), cfg.ReaperConcurrency, log)
	if reapAll {
		sum, err := rp.ReapAll(ctx)
		if err != nil {
			return fmt.Errorf("sweep stale sections: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d reaped=%d\n", sum.Scanned, sum.Reaped)
		return nil
	}
	res, err := rp.Reap(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reap section %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "section=%s reaped=%t\n", res.SectionID, res.Acted)
	return nil
}
