package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"orderload/internal/banner"
	"orderload/internal/cli"
	"orderload/internal/config"
	"orderload/internal/logger"
)

// exitError carries a non-zero run verdict out of cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(viper.New(), stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return cli.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	if errors.Is(err, config.ErrInvalidConfig) {
		return cli.ExitInvalidConfig
	}
	return 1
}

func newRootCmd(v *viper.Viper, stderr io.Writer) *cobra.Command {
	var (
		cfgFile string
		useTUI  bool
	)

	root := &cobra.Command{
		Use:   "orderload",
		Short: "orderload - closed-loop order load generator",
		Long: `
orderload drives POST /orders on an order gateway with a fixed number of
virtual users for a fixed duration, then judges the run against its
thresholds.

Environment:
  GATEWAY_URL   gateway base URL (default http://localhost:8080)
  K6_DURATION   run duration in seconds (default 60)
  K6_VUS        number of virtual users (default 5)

Exit codes: 0 thresholds passed, 99 thresholds crossed, 104 invalid configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			log := logger.NewWithWriter(cfg.Log, stderr)
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code := cli.Run(ctx, cfg, cli.Options{
				Stdout: cmd.OutOrStdout(),
				Logger: log,
				TUI:    useTUI,
			})
			if code != cli.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		if cmd.Long != "" {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Long)
		}
		_ = cmd.Usage()
	})

	config.SetDefaults(v)

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orderload.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("history", "", "history store path, .db selects bbolt (history command default is $HOME/.orderload/history.json)")
	bindFlags(v, pf, map[string]string{
		config.KeyLogLevel:  "log-level",
		config.KeyLogFormat: "log-format",
		config.KeyHistory:   "history",
	})

	f := root.Flags()
	f.StringP("url", "u", "", "gateway base URL, /orders is appended (env GATEWAY_URL)")
	f.StringP("duration", "d", "", "run duration in seconds (env K6_DURATION)")
	f.StringP("vus", "U", "", "number of virtual users (env K6_VUS)")
	f.Duration("timeout", config.DefaultRequestTimeout, "per request timeout")
	f.Duration("graceful-stop", config.DefaultGracefulStop, "time in-flight iterations get after the duration")
	f.StringP("out", "o", "", "report filename prefix, empty disables reports")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.BoolVar(&useTUI, "tui", false, "show the live dashboard")

	bindFlags(v, f, map[string]string{
		config.KeyGatewayURL:   "url",
		config.KeyDuration:     "duration",
		config.KeyVUs:          "vus",
		config.KeyTimeout:      "timeout",
		config.KeyGracefulStop: "graceful-stop",
		config.KeyOut:          "out",
		config.KeyMetricsAddr:  "metrics-addr",
	})

	root.AddCommand(newDummyCmd(v, stderr))
	root.AddCommand(newHistoryCmd(v))

	return root
}

// bindFlags binds viper keys to the named flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// initConfig reads the config file, if any. A missing default file is
// not an error.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName(".orderload")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("%w: reading config file: %w", config.ErrInvalidConfig, err)
	}
	return nil
}
