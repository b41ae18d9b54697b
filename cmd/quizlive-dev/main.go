package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quiz-platform/quizlive/internal/config"
	"github.com/quiz-platform/quizlive/internal/devserver"
	"github.com/quiz-platform/quizlive/internal/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override listen port")
	demo := flag.Bool("demo", false, "Generate a scripted quiz lifecycle")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log.Configure(log.Config{Level: cfg.Log.Level})
	logger := log.WithComponent("devserver")

	store := devserver.NewStore(log.WithComponent("store"))
	hub := devserver.NewHub(log.WithComponent("hub"))
	server := devserver.NewServer(store, hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *demo {
		logger.Info().Msg("demo mode: scripted quiz lifecycle enabled")
		gen := devserver.NewGenerator(store, log.WithComponent("demo"), cfg.Server.DemoInterval)
		gen.Start(ctx)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info().Str("addr", addr).Msg("gateway listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
