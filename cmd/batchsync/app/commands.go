// Package app provides the batchsync command tree.
package app

import (
	"context"
	"fmt"

	"github.com/Sternrassler/batchsync/internal/demo"
	"github.com/Sternrassler/batchsync/pkg/config"
	"github.com/Sternrassler/batchsync/pkg/executor"
	"github.com/Sternrassler/batchsync/pkg/logging"
	"github.com/Sternrassler/batchsync/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries state shared by the subcommands of one command tree.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd creates a new root command for batchsync.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.NewViper(), logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:               "batchsync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Cursor-paginated batch processing with live progress",
		Long: `batchsync drives long-running jobs through a series of bounded batch requests,
carrying a pagination cursor from one batch to the next while reporting progress
and honouring aborts between batches.

Run handlers in-process with "run", or serve them over HTTP with "serve" and
point "run --server" at the server.`,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML)")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("pretty", false, "Human-readable log output")
	flags.String("redis-addr", "", "Redis address for the status board and activity log mirror")

	a.bindFlags(flags, map[string]string{
		"log.level":  "log-level",
		"log.pretty": "pretty",
		"redis.addr": "redis-addr",
	})

	rootCmd.AddCommand(a.newServeCmd())
	rootCmd.AddCommand(a.newRunCmd())
	rootCmd.AddCommand(a.newHandlersCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// bindFlags binds flags to viper keys. A bound flag only overrides the file
// and environment when it is set explicitly.
func (a *app) bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// setup loads the configuration and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = string(logging.LevelDebug)
	}
	a.cfg = cfg

	a.logger = logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  cmd.ErrOrStderr(),
		Service: "batchsync",
	})
	return nil
}

// newRegistry returns a registry holding the built-in handlers.
func (a *app) newRegistry() (*registry.Registry, error) {
	reg := registry.New(a.logger)
	if err := demo.Register(reg); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	return reg, nil
}

func (a *app) newExecutor() *executor.Executor {
	return executor.New(executor.Config{Timeout: a.cfg.Executor.Timeout}, a.logger)
}

// connectRedis returns nil when Redis is not configured.
func (a *app) connectRedis(ctx context.Context) (*redis.Client, error) {
	if !a.cfg.Redis.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.logger.Info().Str("addr", a.cfg.Redis.Addr).Msg("Connected to Redis")
	return client, nil
}
