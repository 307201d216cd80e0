package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"mathbot/internal/config"
)

func TestFactory_BuiltInBackends(t *testing.T) {
	f := NewFactory(testLogger())
	for _, name := range []string{"anthropic", "openai", "gemini"} {
		b, err := f.Backend(context.Background(), config.ModelConfig{Backend: name, APIKey: "k"}, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if b.Name() != name {
			t.Fatalf("expected %s, got %s", name, b.Name())
		}
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	f := NewFactory(testLogger())
	if _, err := f.Backend(context.Background(), config.ModelConfig{Backend: "bard"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	f := NewFactory(testLogger())
	f.RegisterConstructor("mock", func(context.Context, config.ModelConfig, *http.Client, *slog.Logger) (Backend, error) {
		return &mockBackend{text: "ok"}, nil
	})

	cfg := config.Defaults()
	cfg.Model.Backend = "mock"
	g, err := f.Gateway(context.Background(), cfg)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	resp, err := g.Invoke(context.Background(), testRequest())
	if err != nil || resp.Text != "ok" {
		t.Fatalf("invoke: %v %+v", err, resp)
	}
}
