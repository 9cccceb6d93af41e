// Command hecated runs the Hecate feature store HTTP server: it wires
// the DB pools, authorization tree, schema validator, and every engine
// behind the /api route table, then listens until the process is
// signalled to stop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mapbox/hecate-go/internal/api"
	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/bounds"
	"github.com/mapbox/hecate-go/internal/config"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/history"
	"github.com/mapbox/hecate-go/internal/schema"
	"github.com/mapbox/hecate-go/internal/store"
	"github.com/mapbox/hecate-go/internal/tile"
	"github.com/mapbox/hecate-go/internal/worker"
)

func main() {
	log.Logger = config.NewLogger()

	cfg := config.Load()

	pools, err := store.Open(cfg.WriteDSN(), cfg.ReadDSNs(), cfg.WriteDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database pools")
	}
	defer pools.Close()

	authConfig, err := config.LoadAuthConfig(cfg.AuthConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load authorization configuration")
	}

	var validator feature.SchemaValidator
	var schemaJSON []byte
	if cfg.SchemaPath != "" {
		v, err := schema.Compile(cfg.SchemaPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to compile properties schema")
		}
		validator = v
		if raw, err := os.ReadFile(cfg.SchemaPath); err == nil {
			schemaJSON = raw
		} else {
			log.Warn().Err(err).Msg("schema compiled but could not be read back for GET /api/schema")
		}
	}

	features := feature.New(validator)
	deltas := delta.New()
	histories := history.New(pools.Write)
	tiles := tile.New(pools.Read(), pools.Write)
	boundaries := bounds.New(pools.Write)
	directory := auth.NewDirectory(pools.Write)
	dispatcher := worker.New(pools.Write)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	handler := &api.Handler{
		Store:      pools,
		Meta:       store.NewMetaStore(pools.Write),
		Features:   features,
		Deltas:     deltas,
		History:    histories,
		Tiles:      tiles,
		Bounds:     boundaries,
		Worker:     dispatcher,
		Directory:  directory,
		AuthConfig: authConfig,
		SchemaJSON: schemaJSON,
	}
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streamed NDJSON responses can run long
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("hecated listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancel()
	dispatcher.Wait()
}
