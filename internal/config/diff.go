package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and tool
// strategy selection need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StreamChanged is true when any field of the stream block differs.
	StreamChanged bool
	NewStream     StreamConfig

	// RestartRequired lists top-level keys that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether d carries anything the caller can apply.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StreamChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Stream != new.Stream {
		d.StreamChanged = true
		d.NewStream = new.Stream
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Tools != new.Tools {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}
	if !sameConversation(old.Conversation, new.Conversation) {
		d.RestartRequired = append(d.RestartRequired, "conversation")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Entities != new.Entities {
		d.RestartRequired = append(d.RestartRequired, "entities")
	}
	if len(old.MCP.Servers) != len(new.MCP.Servers) {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	} else {
		for i := range old.MCP.Servers {
			if !sameMCPServer(old.MCP.Servers[i], new.MCP.Servers[i]) {
				d.RestartRequired = append(d.RestartRequired, "mcp")
				break
			}
		}
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.LLM, b.LLM) || a.Breaker != b.Breaker || len(a.Fallback) != len(b.Fallback) {
		return false
	}
	for i := range a.Fallback {
		if !sameEntry(a.Fallback[i], b.Fallback[i]) {
			return false
		}
	}
	return true
}

func sameConversation(a, b ConversationConfig) bool {
	at, bt := a.Temperature, b.Temperature
	a.Temperature, b.Temperature = nil, nil
	if a != b {
		return false
	}
	if at == nil || bt == nil {
		return at == bt
	}
	return *at == *bt
}

func sameMCPServer(a, b MCPServerConfig) bool {
	if a.Name != b.Name || a.Transport != b.Transport || a.Command != b.Command || a.URL != b.URL {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	if a.Auth == nil || b.Auth == nil {
		return a.Auth == b.Auth
	}
	return *a.Auth == *b.Auth
}
