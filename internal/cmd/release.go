package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	releaseForce  bool
	releaseReason string
)

var releaseCmd = &cobra.Command{
	Use:   "release <branch>",
	Short: "Release a branch reservation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelease,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.Flags().BoolVarP(&releaseForce, "force", "f", false, "Record the release as forced")
	releaseCmd.Flags().StringVar(&releaseReason, "reason", "manual release", "Reason recorded for forced releases")
}

func runRelease(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	branch := args[0]
	if releaseForce {
		err = rt.manager.ForceRelease(branch, releaseReason)
	} else {
		err = rt.manager.Release(branch)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Released %s\n", branch)
	return nil
}
