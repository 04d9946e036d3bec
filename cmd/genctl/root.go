package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"genbot/internal/bootstrap"
	"genbot/internal/infra"
)

var (
	debugMode  bool
	cmdTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "genctl",
	Short:         "Operate the generation engine's balances, accounts and models",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 15*time.Second, "overall command timeout")
}

func cliLogger() infra.Logger {
	logger := infra.NewLogger("cli").With().Str("cmd", "genctl").Logger()
	if debugMode {
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.WarnLevel)
}

// openRuntime loads configuration from the environment and opens the stores
// it names. The caller must Close the runtime.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cliLogger()
	return bootstrap.Open(ctx, cfg, &logger)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cmdTimeout)
}
