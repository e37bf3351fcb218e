package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gebz97/dyno/internal/infrastructure/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dyno-coordinator",
	Short: "DAG scheduler and workflow registry for the dyno distributed execution system",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.PersistentFlags().String("amqp-uri", "", "AMQP connection URI")
	rootCmd.PersistentFlags().String("workflow-submit-queue", "", "workflow submission queue name")
	rootCmd.PersistentFlags().String("work-queue", "", "worker dispatch queue name")
	rootCmd.PersistentFlags().String("task-status-queue", "", "task status report queue name")
	rootCmd.PersistentFlags().String("workflow-status-queue", "", "terminal workflow status queue name")
	rootCmd.PersistentFlags().StringSlice("etcd-endpoints", nil, "etcd endpoints, comma-separated")
	rootCmd.PersistentFlags().Bool("etcd-require-leader", true, "require an etcd leader to be known before operations")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or text")
	rootCmd.PersistentFlags().Bool("status-cache-enabled", false, "enable the optional Redis-backed status cache")
	rootCmd.PersistentFlags().String("status-cache-redis-url", "", "status cache Redis URL")
	rootCmd.PersistentFlags().String("inventory-postgres-dsn", "", "read-only inventory store DSN")

	bindFlag := func(key, flag string) {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	bindFlag("bus.amqp_uri", "amqp-uri")
	bindFlag("bus.workflow_submit_queue", "workflow-submit-queue")
	bindFlag("bus.work_queue", "work-queue")
	bindFlag("bus.task_status_queue", "task-status-queue")
	bindFlag("bus.workflow_status_queue", "workflow-status-queue")
	bindFlag("etcd.endpoints", "etcd-endpoints")
	bindFlag("etcd.require_leader", "etcd-require-leader")
	bindFlag("logging.level", "log-level")
	bindFlag("logging.format", "log-format")
	bindFlag("status_cache.enabled", "status-cache-enabled")
	bindFlag("status_cache.redis_url", "status-cache-redis-url")
	bindFlag("inventory.postgres_dsn", "inventory-postgres-dsn")

	viper.SetEnvPrefix("dyno")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				logger.Default().Error("coordinator terminated on poisoned registry lock", "error", err)
			} else {
				logger.Default().Error("coordinator terminated on unrecovered panic", "panic", r)
			}
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		logger.Default().Error("coordinator exited with error", "error", err)
		os.Exit(1)
	}
}
