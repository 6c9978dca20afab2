// Command flowlens-api serves loaded captures over HTTP for consumers
// that are not attached to a terminal.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"flowlens/internal/api"
	"flowlens/internal/config"
	"flowlens/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "listen address (overrides the config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
		cfg = loaded
	}

	logger, err := logging.Setup("flowlens-api", cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	addr := cfg.API.Listen
	if *listen != "" {
		addr = *listen
	}

	handler := api.NewHandler(logger, cfg.UI.PreferNames)
	server := &http.Server{
		Addr:    addr,
		Handler: handler.Router(),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("API server exited")
}
