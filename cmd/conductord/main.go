// Command conductord is the Conductor control-plane process: it loads
// configuration, connects to Postgres and the WAMP broker, wires every
// internal package together via internal/runtime, serves the HTTP ingress,
// and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iotronic/conductor/internal/api"
	"github.com/iotronic/conductor/internal/config"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to the conductor INI configuration file")
	httpAddr := flag.String("http-addr", ":8080", "address the HTTP ingress listens on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logging.Initialize(cfg.LogLevel, cfg.LogPretty)

	rt, err := runtime.New(cfg)
	if err != nil {
		logging.Log.Fatal().Err(err).Msg("failed to assemble conductor runtime")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		logging.Log.Fatal().Err(err).Msg("failed to start conductor")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler := api.New(rt.Repo, rt.Workflow, rt.Onboarding)
	handler.Routes(engine)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Serve(ctx, *httpAddr, engine)
	}()
	logging.Log.Info().Str("addr", *httpAddr).Msg("http ingress listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logging.Log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logging.Log.Error().Err(err).Msg("http ingress exited unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logging.Log.Error().Err(err).Msg("error during shutdown")
		os.Exit(1)
	}

	logging.Log.Info().Msg("conductor exited cleanly")
}
