// Command apollod runs the errata service: the background matcher plus the
// public API and introspection HTTP servers.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resf/apollo/datastore/postgres"
	"github.com/resf/apollo/httptransport"
	"github.com/resf/apollo/matcher"
	"github.com/resf/apollo/updateinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	zerolog.SetGlobalLevel(logLevel(cfg.Log.Level))
	if cfg.Log.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	ctx = log.Logger.WithContext(ctx)

	pool, err := postgres.Connect(ctx, cfg.Database.DSN(), "apollod")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	store, err := postgres.InitPostgresStore(ctx, pool, cfg.Database.Migrations)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	log.Info().Bool("migrations", cfg.Database.Migrations).Msg("store ready")

	errChan := make(chan error, 3)

	if !cfg.Matcher.Disable {
		mopts := []matcher.Option{
			matcher.WithGrace(cfg.Matcher.Grace),
			matcher.WithFetchConcurrency(cfg.Matcher.FetchConcurrency),
		}
		if v := cfg.Matcher.UpstreamVendor; v != "" {
			mopts = append(mopts, matcher.WithUpstreamVendor(v))
		}
		m, err := matcher.New(store, mopts...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create matcher")
		}
		manageropts := []matcher.ManagerOption{
			matcher.WithInterval(cfg.Matcher.Interval),
			matcher.WithProductFilter(cfg.Matcher.ProductIDs),
		}
		if cfg.Matcher.BatchSize > 0 {
			manageropts = append(manageropts, matcher.WithBatchSize(cfg.Matcher.BatchSize))
		}
		mgr, err := matcher.NewManager(&matcher.Activities{
			Store:   store,
			Matcher: m,
		}, manageropts...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create manager")
		}
		go func() {
			if err := mgr.Start(ctx); !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
		log.Info().Str("interval", cfg.Matcher.Interval.String()).Msg("matcher started")
	}

	gen := &updateinfo.Generator{Store: store}
	api := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      httptransport.New(store, gen),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	intro := &http.Server{
		Addr:        cfg.Introspection.Addr,
		Handler:     httptransport.NewIntrospection(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	go serve(api, errChan)
	go serve(intro, errChan)
	log.Info().
		Str("api", cfg.API.Addr).
		Str("introspection", cfg.Introspection.Addr).
		Msg("serving")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal error, shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := api.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("api shutdown failed")
	}
	if err := intro.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("introspection shutdown failed")
	}
}

func serve(srv *http.Server, errChan chan<- error) {
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		errChan <- err
	}
}

func logLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
