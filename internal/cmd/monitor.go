package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgecrew/wrangler/internal/executor"
	"github.com/forgecrew/wrangler/internal/pipeline"
	"github.com/forgecrew/wrangler/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [plan-file]",
	Short: "Live view of reservations, queues, and coordination events",
	Long: `Monitor opens a terminal view of repository reservations with their
ages, per-agent queue depths, and recent coordination events.

With a plan file argument the batch is driven through the pipeline in
the background while the view updates live. Press q to quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var batchErr error
	batchDone := make(chan struct{})

	if len(args) == 1 {
		repo, units, err := loadPlanFile(args[0])
		if err != nil {
			return err
		}
		if repo == "" {
			return fmt.Errorf("plan file %s: repo is required for monitor", args[0])
		}

		orch, err := pipeline.New(pipeline.Config{
			Store:        rt.store,
			Reservations: rt.manager,
			Executor:     executor.NewScriptedExecutor(),
			Resolver:     rt.resolver,
			Logger:       rt.log,
			Bus:          rt.bus,
		})
		if err != nil {
			return err
		}

		go func() {
			defer close(batchDone)
			batchErr = orch.RunBatch(context.Background(), units, repo, rt.cfg.Planner.MaxGroupSize)
		}()
	} else {
		close(batchDone)
	}

	// Periodic stale-reservation sweep while the monitor is open.
	if interval := rt.cfg.Reservation.CleanupInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case <-ticker.C:
					rt.manager.EmergencyCleanup(rt.cfg.Reservation.StaleAfter())
				case <-stop:
					return
				}
			}
		}()
	}

	app := tui.New(rt.manager, rt.bus)
	if err := app.Run(); err != nil {
		return err
	}

	<-batchDone
	if batchErr != nil {
		fmt.Fprintf(os.Stderr, "batch failed: %v\n", batchErr)
		return batchErr
	}
	return nil
}
