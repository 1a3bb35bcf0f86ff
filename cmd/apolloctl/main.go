// Command apolloctl is the operator CLI: one-shot migrations, match passes,
// and updateinfo rendering against a live database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultDSN = "host=localhost port=5432 user=apollo dbname=apollo sslmode=disable"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx = log.Logger.WithContext(ctx)

	root := &cobra.Command{
		Use:           "apolloctl",
		Short:         "Operate the errata service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var debug bool
	root.PersistentFlags().String("dsn", defaultDSN, "PostgreSQL connection string (or set APOLLO_DSN)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}

	root.AddCommand(newMigrateCommand(), newMatchCommand(), newUpdateinfoCommand())
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// dsn resolves the connection string: flag first, APOLLO_DSN second.
func dsn(c *cobra.Command) string {
	s, _ := c.Flags().GetString("dsn")
	if c.Flags().Changed("dsn") {
		return s
	}
	if env := os.Getenv("APOLLO_DSN"); env != "" {
		return env
	}
	return s
}
