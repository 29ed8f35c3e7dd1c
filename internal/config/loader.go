package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/colloquy/internal/mcp"
)

// KnownLLMProviders lists the model backends that ship with colloquy.
// [Validate] warns about names outside this list.
var KnownLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is not an error when
// optional is true.
func LoadEnvFile(path string, optional bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	slog.Debug("config: environment file loaded", "path", path)
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references in r, decodes the YAML on top of
// [Default] and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" && !cfg.Conversation.Sandbox {
		errs = append(errs, errors.New("providers.llm.name is required unless conversation.sandbox is enabled"))
	}
	warnUnknownProvider("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallback {
		prefix := fmt.Sprintf("providers.fallback[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		warnUnknownProvider(prefix, fb.Name)
	}
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.max_failures %d must not be negative", cfg.Providers.Breaker.MaxFailures))
	}
	if cfg.Providers.Breaker.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.cooldown %v must not be negative", cfg.Providers.Breaker.Cooldown))
	}

	// Tools
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout %v must not be negative", cfg.Tools.Timeout))
	}
	if cfg.Tools.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("tools.max_concurrency %d must not be negative", cfg.Tools.MaxConcurrency))
	}
	if cfg.Tools.Enabled && cfg.Tools.UseMCP && len(cfg.MCP.Servers) == 0 {
		slog.Info("tools.use_mcp is set without mcp.servers; only the built-in business functions will be offered")
	}

	// Conversation
	if cfg.Conversation.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.turn_timeout %v must not be negative", cfg.Conversation.TurnTimeout))
	}
	if t := cfg.Conversation.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Conversation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_tokens %d must not be negative", cfg.Conversation.MaxTokens))
	}

	// Stream
	if cfg.Stream.ThinkingDelay < 0 {
		errs = append(errs, fmt.Errorf("stream.thinking_delay %v must not be negative", cfg.Stream.ThinkingDelay))
	}
	if cfg.Stream.TypingDelay < 0 {
		errs = append(errs, fmt.Errorf("stream.typing_delay %v must not be negative", cfg.Stream.TypingDelay))
	}
	if cfg.Stream.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("stream.history_limit %d must not be negative", cfg.Stream.HistoryLimit))
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history is kept in memory and lost on restart")
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(key, name string) {
	if name == "" || slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"key", key,
		"name", name,
		"known", KnownLLMProviders,
	)
}
