package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Config prints the configuration after merging defaults, the config
file, and FORGE_-prefixed environment variables.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("redis.addr:                %s\n", cfg.Redis.Addr)
	fmt.Printf("redis.db:                  %d\n", cfg.Redis.DB)
	fmt.Printf("supabase.url:              %s\n", orUnset(cfg.Supabase.URL))
	fmt.Printf("session.driver:            %s\n", cfg.Session.Driver)
	fmt.Printf("session.ttl_hours:         %d\n", cfg.Session.TTLHours)
	fmt.Printf("lock.ttl_ms:               %d\n", cfg.Lock.TTLMs)
	fmt.Printf("lock.timeout_ms:           %d\n", cfg.Lock.TimeoutMs)
	fmt.Printf("lock.retry_interval_ms:    %d\n", cfg.Lock.RetryIntervalMs)
	fmt.Printf("lock.require:              %t\n", cfg.Lock.Require)
	fmt.Printf("call_context.ttl_minutes:  %d\n", cfg.CallContext.TTLMinutes)
	fmt.Printf("task.max_attempts:         %d\n", cfg.Task.MaxAttempts)
	fmt.Printf("logging.level:             %s\n", cfg.Logging.Level)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
