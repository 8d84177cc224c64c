package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raylabs/chatcore/internal/api"
	"github.com/raylabs/chatcore/internal/auth"
	"github.com/raylabs/chatcore/internal/chat"
	"github.com/raylabs/chatcore/internal/config"
	"github.com/raylabs/chatcore/internal/stream"
)

// upgradeNotice prints plan-upgrade prompts for quota-blocked sends.
type upgradeNotice struct{}

func (upgradeNotice) PromptUpgrade(reason chat.QuotaReason) {
	switch reason {
	case chat.QuotaDaily:
		fmt.Println("Daily limit reached. Upgrade your plan to keep chatting today.")
	case chat.QuotaMonthly:
		fmt.Println("Monthly limit reached for your plan. Upgrade to continue.")
	default:
		fmt.Println("This model requires a higher plan. Please subscribe to continue.")
	}
}

func main() {
	// Logs go to stderr; stdout carries the conversation.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := auth.NewTokenCache(auth.StaticProvider(cfg.APIToken), config.TokenTTL)
	backend := api.NewClient(cfg.BackendURL, tokens)
	streams := stream.NewClient(cfg.BackendURL)

	engine := chat.NewEngine(chat.Deps{
		Tokens:  tokens,
		Streams: streams,
		Store:   backend,
		Upgrade: upgradeNotice{},
		Options: chat.Options{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Thinking:    cfg.Thinking,
		},
		TokenSink: func(delta string) {
			fmt.Print(delta)
		},
	})

	if cfg.SessionID != "" {
		turns, err := backend.ListMessages(ctx, cfg.SessionID)
		if err != nil {
			slog.Error("failed to resume session", "error", err, "session_id", cfg.SessionID)
			os.Exit(1)
		}
		engine.Resume(cfg.SessionID, turns)
		slog.Info("session resumed", "session_id", cfg.SessionID, "turns", len(turns))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// First interrupt stops the in-flight stream; the loop then exits on
	// the cancelled context.
	go func() {
		<-ctx.Done()
		engine.Stop()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}

		turn, err := engine.Send(ctx, text, nil)
		fmt.Println()
		if err != nil {
			slog.Error("send failed", "error", err)
		}
		if turn.Status.Terminal() && turn.Usage != nil {
			slog.Info("turn finished",
				"status", string(turn.Status),
				"prompt_tokens", turn.Usage.PromptTokens,
				"completion_tokens", turn.Usage.CompletionTokens,
			)
		}

		if ctx.Err() != nil {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("read input", "error", err)
	}
	slog.Info("session ended", "session_id", engine.SessionID())
}
