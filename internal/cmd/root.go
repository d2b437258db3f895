package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgecrew/wrangler/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "wrangler",
	Short: "Branch scheduler and conflict resolver for autonomous coding agents",
	Long: `Wrangler coordinates multiple autonomous coding agents working against
shared repositories. It reserves branches per agent type, detects file,
dependency, module, and capacity conflicts before work starts, resolves
them (sequencing, splitting, preemption, merging, queueing), and drives
units of work through a fixed multi-agent pipeline.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/wrangler/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".wrangler")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WRANGLER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., WRANGLER_PLANNER_MAX_GROUP_SIZE for planner.max_group_size
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
