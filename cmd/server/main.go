package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/auth"
	"github.com/norman-finance/norman-mcp-go/auth/staterepo"
	"github.com/norman-finance/norman-mcp-go/clients"
	"github.com/norman-finance/norman-mcp-go/internal/config"
	"github.com/norman-finance/norman-mcp-go/server"
	"github.com/norman-finance/norman-mcp-go/token"
	"github.com/norman-finance/norman-mcp-go/upstream"
)

const cleanupInterval = time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	cfg := config.New()
	setupLogging(cfg)
	displayAppname(cfg.GetAppName())

	vault := token.NewInMemoryVault(cleanupInterval)
	defer vault.Stop()
	states := staterepo.NewInMemoryRepo(cfg.GetStateExpiry(), cleanupInterval)
	defer states.Stop()

	registry, err := clients.NewRegistry(clients.NewInMemoryRepo(), cfg)
	if err != nil {
		return fmt.Errorf("clients.NewRegistry: %w", err)
	}
	if err := registry.RegisterStatic(); err != nil {
		return fmt.Errorf("registry.RegisterStatic: %w", err)
	}

	exchanger := upstream.New(cfg, server.CallbackURL(cfg))

	provider, err := auth.NewProvider(auth.Repos{
		Clients: registry,
		States:  states,
		Codes:   vault,
		Access:  vault,
		Refresh: vault,
		Mapping: vault,
	}, exchanger, cfg)
	if err != nil {
		return fmt.Errorf("auth.NewProvider: %w", err)
	}

	srv, err := server.New(cfg, provider, registry)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: cfg.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func setupLogging(cfg config.EnvConfig) {
	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(httpServer *http.Server) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
