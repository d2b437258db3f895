package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Force-release reservations older than a threshold",
	Long: `Cleanup force-releases every reservation older than the threshold and
admits compatible queued work in its place. Use it to recover from agent
processes that died while holding a branch.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 0,
		"age threshold in minutes (default: reservation.stale_after_minutes)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	maxAge := rt.cfg.Reservation.StaleAfter()
	if cleanupOlderThan > 0 {
		maxAge = time.Duration(cleanupOlderThan) * time.Minute
	}

	released := rt.manager.EmergencyCleanup(maxAge)
	fmt.Printf("Released %d reservation(s) older than %s\n", released, maxAge)
	return nil
}
