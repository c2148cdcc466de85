package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
	"github.com/TeskaLabs/llm-microlink/internal/config"
	"github.com/TeskaLabs/llm-microlink/internal/journal"
	"github.com/TeskaLabs/llm-microlink/internal/library"
	"github.com/TeskaLabs/llm-microlink/internal/provider"
	"github.com/TeskaLabs/llm-microlink/internal/router"
	"github.com/TeskaLabs/llm-microlink/internal/sandbox"
	"github.com/TeskaLabs/llm-microlink/internal/tool"
	"github.com/TeskaLabs/llm-microlink/internal/tools/busybox"
	"github.com/TeskaLabs/llm-microlink/internal/tools/parserbuild"
	"github.com/TeskaLabs/llm-microlink/internal/tools/ping"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("c", "./microlink.conf", "configuration file")
	flag.Parse()

	setupLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := library.NewService(cfg.LibraryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open library")
	}
	defer lib.Close()

	// The sandbox needs a reachable Docker daemon; without one the
	// service still runs, minus the sandboxed tools.
	var sandboxes *sandbox.Service
	if sandboxes, err = sandbox.NewService(cfg.SandboxPath); err != nil {
		log.Warn().Err(err).Msg("Sandbox disabled")
		sandboxes = nil
	} else {
		defer sandboxes.Close(context.Background())
	}

	tools := tool.NewService(toolProviders(cfg, sandboxes)...)

	svc := router.NewService(ctx, nil, lib, tools)
	svc.SetProviders(chatProviders(ctx, cfg, svc))

	var events *journal.Journal
	if cfg.JournalPath != "" {
		events, err = journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open event journal")
		}
		defer events.Close()
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: newServer(svc, lib, events).routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", cfg.Listen).Msg("Starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level := zerolog.InfoLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

// toolProviders assembles the tool registry: the local tools plus the
// optional YAML definition directory.
func toolProviders(cfg *config.Config, sandboxes *sandbox.Service) []tool.Provider {
	local := []*chat.Tool{ping.Tool()}

	if sandboxes != nil {
		local = append(local, busybox.New(sandboxes))

		if cfg.ParserSchemaPath != "" && cfg.ParserLogDir != "" {
			builder := parserbuild.New(sandboxes, parserbuild.Config{
				SchemaPath: cfg.ParserSchemaPath,
				LogDir:     cfg.ParserLogDir,
			})
			local = append(local, builder.Tools()...)
		}
	}

	providers := []tool.Provider{tool.NewLocalProvider(local...)}

	if cfg.ToolDefinitionPath != "" {
		defs, err := tool.NewDefinitionProvider(cfg.ToolDefinitionPath, cfg.ToolBaseURL, cfg.Tenant)
		if err != nil {
			log.Warn().Err(err).Msg("Tool definition provider disabled")
		} else {
			providers = append(providers, defs)
		}
	}
	return providers
}

// chatProviders builds the adapter per [provider:X] section. Unknown
// types are logged and skipped, never fatal.
func chatProviders(ctx context.Context, cfg *config.Config, sink provider.Sink) []provider.ChatProvider {
	var providers []provider.ChatProvider
	for _, section := range cfg.Providers {
		opts := provider.Options{
			URL:         section.URL,
			APIKey:      section.APIKey,
			MaxModelLen: section.MaxModelLen,
			Permits:     section.Permits,
		}

		switch section.Type {
		case "ChatCompletionsAdapter":
			providers = append(providers, provider.NewChatCompletions(sink, opts))
		case "MessagesAdapter":
			providers = append(providers, provider.NewMessages(sink, opts))
		case "ResponsesAdapter":
			providers = append(providers, provider.NewResponses(sink, opts))
		case "auto-from-vLLM":
			p, err := provider.NewFromVLLM(ctx, sink, opts)
			if err != nil {
				log.Error().Err(err).Str("provider", section.Name).Msg("vLLM provider initialization failed")
				continue
			}
			providers = append(providers, p)
		default:
			log.Warn().Str("type", section.Type).Str("provider", section.Name).Msg("Unknown provider type, skipping")
		}
	}
	return providers
}
