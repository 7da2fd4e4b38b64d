package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgehq/forge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Task orchestration for multi-phase automated builds",
	Long: `Forge coordinates multi-phase automated build sessions: it keeps
session state in a shared store so any server instance can resume a
conversation, schedules tasks through a dependency-aware task graph,
and delegates each task to an execution capability with bounded retries.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/forge/config.yaml)")
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
		viper.AddConfigPath("$HOME/.config/forge")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FORGE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., FORGE_SESSION_TTL_HOURS for session.ttl_hours
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
