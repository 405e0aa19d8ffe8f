package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/engine"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	pretty := flag.Bool("pretty", false, "log to stderr with a human-readable console writer instead of JSON")
	flag.Parse()

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("loading config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing engine")
	}

	srv := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: eng.API.Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.API.ListenAddr).Msg("command api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err).Msg("command api server exited")
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("shutting down command api server")
	}

	if err := <-runErr; err != nil {
		log.Err(err).Msg("engine run exited with error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
