package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Pipeline orchestrator for AI-agent work items",
	Long: `Convoy drives tracked work items through a fixed five-phase agent
pipeline (analysis, planning, implementation, verification, PR
composition), checkpointing every transition so an interrupted run
resumes where it stopped. Items run concurrently in dependency-ordered
waves, each in its own git worktree.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit code: 0 on success,
// 2 for dependency cycles, 3 for budget ceilings, 4 for interruption,
// 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cycleErr *errors.CycleError
	if errors.As(err, &cycleErr) {
		return 2
	}
	if errors.Is(err, errors.ErrBudgetExceeded) {
		return 3
	}
	if errors.Is(err, errors.ErrInterrupted) {
		return 4
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/convoy/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/convoy")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONVOY")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CONVOY_FLEET_MAX_PARALLEL_ISSUES for fleet.max_parallel_issues
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
