package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mathbot/internal/bus"
	"mathbot/internal/channel"
	"mathbot/internal/classifier"
	"mathbot/internal/config"
	"mathbot/internal/dispatcher"
	"mathbot/internal/domain"
	"mathbot/internal/formatter"
	"mathbot/internal/gateway"
	"mathbot/internal/metrics"
	"mathbot/internal/plot"
	"mathbot/internal/prompt"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled transports and the dispatcher",
		Long:  "Connects the enabled transports (Slack, Telegram), starts the dispatcher worker pool and, when enabled, the ops HTTP server. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions from the terminal",
		RunE:  runChat,
	}
}

// pipeline is the transport-independent part of the bot.
type pipeline struct {
	bus        *bus.InMemoryBus
	events     *bus.EventBus
	collector  *metrics.Collector
	dispatcher *dispatcher.Dispatcher
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	messageBus := bus.New(cfg.Dispatch.BusBuffer, logger)
	events := bus.NewEventBus(logger)

	collector := metrics.NewCollector()
	collector.Subscribe(events)

	gw, err := gateway.NewFactory(logger).Gateway(ctx, cfg, gateway.WithEvents(events))
	if err != nil {
		return nil, fmt.Errorf("model gateway: %w", err)
	}
	logger.Info("model gateway ready", "backend", gw.Name(), "model", cfg.Model.Name)

	fc := formatter.Config{Markups: formatter.DefaultMarkups(), Logger: logger}
	if cfg.Plot.Enabled {
		fc.Plotter = plot.New(plot.Config{
			WidthInches:  cfg.Plot.WidthInches,
			HeightInches: cfg.Plot.HeightInches,
			Logger:       logger,
		})
	}

	historyTurns := 0
	if cfg.Prompt.HistoryEnabled {
		historyTurns = cfg.Prompt.MaxHistoryTurns
	}

	d := dispatcher.New(dispatcher.Config{
		Bus:        messageBus,
		Classifier: classifier.New(cfg.Classifier.ExtraKeywords),
		Prompt: prompt.NewBuilder(prompt.Config{
			SystemPromptExtra: cfg.Prompt.SystemPromptExtra,
			MaxContextTokens:  cfg.Prompt.MaxContextTokens,
			MaxHistoryTurns:   cfg.Prompt.MaxHistoryTurns,
			SkipFacts:         !cfg.Prompt.ReferenceFacts,
			Counter:           prompt.NewTiktokenCounter("", logger),
			Logger:            logger,
		}),
		Gateway:        gw,
		Formatter:      formatter.New(fc),
		Events:         events,
		Limiter:        dispatcher.NewRateLimiter(cfg.Dispatch.RateLimitBurst, float64(cfg.Dispatch.RateLimitPerMinute)),
		Logger:         logger,
		Workers:        cfg.Dispatch.Workers,
		AnswerMentions: cfg.Dispatch.AnswerMentions,
		Acknowledge:    cfg.Dispatch.Acknowledge,
		HistoryTurns:   historyTurns,
	})

	return &pipeline{bus: messageBus, events: events, collector: collector, dispatcher: d}, nil
}

// transports returns the channels enabled in cfg.
func transports(cfg *config.Config) []domain.Channel {
	var chans []domain.Channel
	if sc := cfg.Channels.Slack; sc.Enabled {
		chans = append(chans, channel.NewSlack(channel.SlackConfig{
			BotToken:          sc.BotToken,
			AppToken:          sc.AppToken,
			AckReaction:       sc.AckReaction,
			QuestionReactions: sc.QuestionReactions,
			Logger:            logger,
		}))
	}
	if tc := cfg.Channels.Telegram; tc.Enabled {
		chans = append(chans, channel.NewTelegram(channel.TelegramConfig{
			Token:     tc.Token,
			AllowFrom: tc.AllowFrom,
			ParseMode: tc.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.CLI.Enabled {
		chans = append(chans, channel.NewCLI(channel.CLIConfig{Logger: logger, Spinner: true}))
	}
	return chans
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg.General)
	defer closeLog()
	if err != nil {
		return err
	}

	chans := transports(cfg)
	if len(chans) == 0 {
		return errors.New("no transports enabled: set channels.slack.enabled or channels.telegram.enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.bus.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range chans {
		p.bus.Register(ch)
		g.Go(func() error {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx, p.bus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error { return p.dispatcher.Run(gctx) })

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Addr:      cfg.Metrics.Addr,
			Endpoint:  cfg.Metrics.Endpoint,
			Collector: p.collector,
			Logger:    logger,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info("mathbot started. Press Ctrl+C to stop.", "version", version, "transports", len(chans))
	err = g.Wait()
	logger.Info("mathbot stopped")
	return err
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	// Keep the terminal for the conversation; log warnings only.
	if cfg.General.LogLevel == "info" || cfg.General.LogLevel == "debug" {
		cfg.General.LogLevel = "warn"
	}
	closeLog, err := setupLogger(cfg.General)
	defer closeLog()
	if err != nil {
		return err
	}
	if cfg.Model.APIKey == "" && !(cfg.Model.Backend == "openai" && cfg.Model.BaseURL != "") {
		return fmt.Errorf("model.apiKey is required for the %s backend (set MODEL_API_KEY)", cfg.Model.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.bus.Close()

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger, In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Spinner: true})
	p.bus.Register(cli)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.dispatcher.Run(gctx) })
	g.Go(func() error {
		defer cancel() // end the dispatcher when the user quits
		return cli.Start(gctx, p.bus)
	})
	return g.Wait()
}
