package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orderload/internal/config"
	"orderload/internal/dummy"
	"orderload/internal/logger"
)

func newDummyCmd(v *viper.Viper, stderr io.Writer) *cobra.Command {
	cfg := dummy.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "dummy",
		Short: "Run a mock order gateway to aim load at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.NewWithWriter(logger.Config{
				Level:  v.GetString(config.KeyLogLevel),
				Format: v.GetString(config.KeyLogFormat),
			}, stderr).Named("dummy")
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return dummy.Start(ctx, cfg, log)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	f.IntVar(&cfg.ForceStatus, "status", 0, "answer every POST /orders with this status")
	f.Float64Var(&cfg.FailRate, "fail-rate", 0, "fraction of POST /orders answered with 500")
	f.DurationVar(&cfg.MinLatency, "min-latency", cfg.MinLatency, "lower bound of injected latency")
	f.DurationVar(&cfg.MaxLatency, "max-latency", cfg.MaxLatency, "upper bound of injected latency")
	f.StringVar(&cfg.RedisAddr, "redis-addr", "", "keep idempotency keys in Redis at this address")
	f.DurationVar(&cfg.RedisTTL, "redis-ttl", cfg.RedisTTL, "how long Redis remembers an idempotency key")

	return cmd
}
