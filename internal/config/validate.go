package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their config keys, e.g. "gateway.timeoutSeconds".
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if err := validatorInstance().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if cfg.Dispatch.RateLimitPerMinute > 0 && cfg.Dispatch.RateLimitBurst < 1 {
		errs = append(errs, "dispatch.rateLimitBurst must be >= 1 when rate limiting is enabled")
	}

	if s := cfg.Channels.Slack; s.Enabled {
		if !strings.HasPrefix(s.BotToken, "xoxb-") {
			errs = append(errs, "channels.slack.botToken must be a bot token (xoxb-...)")
		}
		if !strings.HasPrefix(s.AppToken, "xapp-") {
			errs = append(errs, "channels.slack.appToken must be an app-level token (xapp-...) for Socket Mode")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	// OpenAI-compatible local endpoints (Ollama, vLLM) accept any key.
	if cfg.Model.APIKey == "" && !(cfg.Model.Backend == "openai" && cfg.Model.BaseURL != "") && anyTransport(cfg) {
		errs = append(errs, fmt.Sprintf("model.apiKey is required for backend %q", cfg.Model.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func anyTransport(cfg *Config) bool {
	c := cfg.Channels
	return c.Slack.Enabled || c.Telegram.Enabled || c.CLI.Enabled
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:] // drop the root type name
	}
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}
