package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Model: ModelConfig{
			Backend:   "anthropic",
			MaxTokens: 2048,
		},
		Gateway: GatewayConfig{
			TimeoutSeconds:         60,
			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
		},
		Prompt: PromptConfig{
			MaxContextTokens: 4096,
			HistoryEnabled:   true,
			MaxHistoryTurns:  20,
			ReferenceFacts:   true,
		},
		Dispatch: DispatchConfig{
			Workers:        5,
			BusBuffer:      100,
			AnswerMentions: true,
			Acknowledge:    true,
			RateLimitBurst: 3,
		},
		Plot: PlotConfig{
			Enabled:      true,
			WidthInches:  6,
			HeightInches: 4,
		},
		Channels: ChannelsConfig{
			Slack: SlackConfig{
				Enabled:           false,
				AckReaction:       "brain",
				QuestionReactions: []string{"question", "grey_question"},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}

// DefaultModelName returns the model used when a backend is chosen without
// naming one.
func DefaultModelName(backend string) string {
	switch backend {
	case "openai":
		return "gpt-4o-mini"
	case "gemini":
		return "gemini-2.0-flash"
	default:
		return "claude-3-5-sonnet-20241022"
	}
}
