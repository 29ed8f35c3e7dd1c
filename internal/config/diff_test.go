package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/colloquy/internal/config"
	"github.com/MrWong99/colloquy/internal/mcp"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	cfg.MCP.Servers = []config.MCPServerConfig{{Name: "crm", Transport: mcp.TransportStdio, Command: "crm-mcp"}}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantStream  bool
		wantRestart []string
	}{
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:       "typing delay",
			mutate:     func(c *config.Config) { c.Stream.TypingDelay = 80 * time.Millisecond },
			wantStream: true,
		},
		{
			name:       "show completed",
			mutate:     func(c *config.Config) { c.Stream.ShowCompleted = false },
			wantStream: true,
		},
		{
			name:        "provider model",
			mutate:      func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" },
			wantRestart: []string{"providers"},
		},
		{
			name: "provider options",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Options = map[string]any{"organization": "acme"}
			},
			wantRestart: []string{"providers"},
		},
		{
			name:        "tool strategy",
			mutate:      func(c *config.Config) { c.Tools.UseMCP = true },
			wantRestart: []string{"tools"},
		},
		{
			name: "temperature",
			mutate: func(c *config.Config) {
				v := 0.2
				c.Conversation.Temperature = &v
			},
			wantRestart: []string{"conversation"},
		},
		{
			name:        "mcp env",
			mutate:      func(c *config.Config) { c.MCP.Servers[0].Env = map[string]string{"TOKEN": "x"} },
			wantRestart: []string{"mcp"},
		},
		{
			name: "mixed",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = config.LogWarn
				c.Server.ListenAddr = ":9090"
				c.Memory.PostgresDSN = "postgres://db/colloquy"
			},
			wantLevel:   true,
			wantRestart: []string{"server", "memory"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)

			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if d.StreamChanged != tt.wantStream {
				t.Errorf("StreamChanged = %v, want %v", d.StreamChanged, tt.wantStream)
			}
			if tt.wantStream && d.NewStream != next.Stream {
				t.Errorf("NewStream = %+v, want %+v", d.NewStream, next.Stream)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}

func TestDiff_SameTemperatureValue(t *testing.T) {
	t.Parallel()
	a, b := baseConfig(), baseConfig()
	x, y := 0.7, 0.7
	a.Conversation.Temperature = &x
	b.Conversation.Temperature = &y
	if d := config.Diff(a, b); len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none for equal temperatures", d.RestartRequired)
	}
}
