package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Proton-105/hydration-bot/internal/app"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/pkg/config"
)

var env string

var rootCmd = &cobra.Command{
	Use:           "hydration-bot",
	Short:         "Chat bot that reminds opted-in users to drink water",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, v, err := config.Load(env)
		if err != nil {
			return apperrors.NewConfigurationError(fmt.Errorf("load configuration: %w", err))
		}

		a, err := app.New(ctx, cfg, v)
		if err != nil {
			return err
		}

		return a.Run(ctx)
	},
}

func main() {
	rootCmd.Flags().StringVar(&env, "env", "", "configuration environment (defaults to APP_ENV, then development)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if appErr, ok := apperrors.As(err); ok {
			fmt.Fprintf(os.Stderr, "hydration-bot: [%s] %v\n", appErr.Code, err)
		} else {
			fmt.Fprintln(os.Stderr, "hydration-bot:", err)
		}
		os.Exit(1)
	}
}
