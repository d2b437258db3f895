package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecrew/wrangler/internal/executor"
	"github.com/forgecrew/wrangler/internal/pipeline"
	"github.com/forgecrew/wrangler/internal/sourcehost"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/watch"
)

var runRepoPath string

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Drive a batch of units through the agent pipeline",
	Long: `Run validates the batch, orders it by dependencies, and drives each
parallel group through the pipeline stages with a scripted executor.
When --repo-path points at a local git checkout, branches and pull
request records are created for each mutating stage.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runRepoPath, "repo-path", "", "Local git checkout to create branches and PR records in")
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	repo, units, err := loadPlanFile(args[0])
	if err != nil {
		return err
	}
	if repo == "" {
		return fmt.Errorf("plan file %s: repo is required for run", args[0])
	}

	var host sourcehost.SourceHost
	if runRepoPath != "" {
		host = sourcehost.NewLocalHost()

		if rt.cfg.Watch.Enabled {
			watcher, err := watch.New(rt.log, rt.bus, rt.cfg.Watch.Debounce())
			if err != nil {
				return fmt.Errorf("failed to start drift watcher: %w", err)
			}
			predictor := taskctx.NewKeywordExtractor()
			for _, u := range units {
				if err := watcher.AddUnit(u.ID, runRepoPath, predictor.PredictFiles(u)); err != nil {
					return fmt.Errorf("failed to watch %s: %w", runRepoPath, err)
				}
			}
			watcher.Start()
			defer watcher.Stop()
		}
	}

	orch, err := pipeline.New(pipeline.Config{
		Store:        rt.store,
		Reservations: rt.manager,
		Executor:     executor.NewScriptedExecutor(),
		Host:         host,
		RepoPath:     runRepoPath,
		Resolver:     rt.resolver,
		Logger:       rt.log,
		Bus:          rt.bus,
	})
	if err != nil {
		return err
	}

	if err := orch.RunBatch(context.Background(), units, repo, rt.cfg.Planner.MaxGroupSize); err != nil {
		return err
	}

	fmt.Printf("Batch completed: %d unit(s)\n", len(units))
	for _, u := range units {
		stored, err := rt.store.Load(u.ID)
		if err != nil {
			continue
		}
		fmt.Printf("  %s  %s\n", stored.ID, stored.Status)
	}
	return nil
}
