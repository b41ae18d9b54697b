package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quiz-platform/quizlive/internal/broker"
	"github.com/quiz-platform/quizlive/internal/channel"
	"github.com/quiz-platform/quizlive/internal/config"
	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/log"
	"github.com/quiz-platform/quizlive/internal/quiz"
	"github.com/quiz-platform/quizlive/internal/reactor"
	"github.com/quiz-platform/quizlive/internal/rest"
	"github.com/quiz-platform/quizlive/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	token := flag.String("token", "USER:demo", "Identity token (dev gateway format ROLE:user)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// The TUI draws on stdout; keep logs out of the way unless redirected.
	log.Configure(log.Config{Level: cfg.Log.Level, Output: os.Stderr})
	logger := log.WithComponent("tui")

	session := &identity.Context{}
	session.Init(userIDFromToken(*token), identity.RoleUser, *token)
	defer session.Teardown()

	restc := rest.NewClient(cfg.Gateway.BaseURL, session)

	// The channel and reactor goroutines may call send before the
	// program exists; messages from that window are dropped. The atomic
	// keeps the handoff safe against those concurrent readers.
	var program atomic.Pointer[tea.Program]
	send := func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	}

	ch := channel.New(channel.Options{
		WebSocketURL: cfg.Gateway.WebSocketURL,
		PollURL:      cfg.Gateway.BaseURL,
		MaxAttempts:  cfg.Gateway.MaxAttempts,
		RetryDelay:   cfg.Gateway.RetryDelay,
		OnStateChange: func(s channel.State) {
			send(tui.ConnStateMsg{State: s})
		},
		Logger: log.WithComponent("channel"),
	})
	defer ch.Close()

	b := broker.New(ch, log.WithComponent("broker"))

	// Every lifecycle event triggers one list re-fetch.
	r := reactor.New(func() { send(tui.RefreshRequestMsg{}) }, log.WithComponent("reactor"))
	r.Watch(
		b.StreamFor(quiz.Created),
		b.StreamFor(quiz.Approved),
		b.StreamFor(quiz.Rejected),
		b.StreamFor(quiz.Deleted),
	)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Connect(ctx, session.Token()); err != nil {
		logger.Error().Err(err).Msg("connect failed")
	}

	m := tui.New(tui.Deps{
		REST:              restc,
		Notify:            send,
		TickInterval:      cfg.Attempt.TickInterval,
		MaxSubmitAttempts: cfg.Attempt.MaxSubmitAttempts,
		Logger:            log.WithComponent("attempt"),
	})
	prog := tea.NewProgram(m, tea.WithAltScreen())
	program.Store(prog)

	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// userIDFromToken extracts the user part of a dev token for display;
// the token itself stays opaque to the core packages.
func userIDFromToken(token string) string {
	if _, user, ok := strings.Cut(token, ":"); ok && user != "" {
		return user
	}
	return token
}
