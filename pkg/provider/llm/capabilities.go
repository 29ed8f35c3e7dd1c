package llm

import (
	"strings"

	"github.com/MrWong99/colloquy/pkg/types"
)

// DefaultCapabilities is reported for models missing from the family table.
var DefaultCapabilities = types.ModelCapabilities{
	SupportsToolCalling: true,
	ContextWindow:       128_000,
	MaxOutputTokens:     4_096,
}

// modelFamily matches model names by lower-case prefix (or substring when
// anywhere is set). Zero fields keep the default.
type modelFamily struct {
	match    string
	anywhere bool
	context  int
	output   int
	noTools  bool
}

// families is scanned in order; the first match wins, so longer prefixes of
// the same vendor come first.
var families = []modelFamily{
	// OpenAI
	{match: "gpt-4o", output: 16_384},
	{match: "gpt-4.1", context: 1_047_576, output: 32_768},
	{match: "gpt-4-turbo"},
	{match: "gpt-4", context: 8_192},
	{match: "gpt-3.5-turbo", context: 16_385},
	{match: "o1-mini", output: 65_536, noTools: true},
	{match: "o1", context: 200_000, output: 100_000},
	{match: "o3", context: 200_000, output: 100_000},

	// Anthropic, with or without a vendor prefix such as "anthropic/".
	{match: "claude-3-opus", anywhere: true, context: 200_000},
	{match: "claude", anywhere: true, context: 200_000, output: 8_192},

	// Google
	{match: "gemini-1.5-pro", anywhere: true, context: 2_097_152, output: 8_192},
	{match: "gemini-1.5-flash", anywhere: true, context: 1_048_576, output: 8_192},
	{match: "gemini-2.0-flash", anywhere: true, context: 1_048_576, output: 8_192},
	{match: "gemini", output: 8_192},

	// Open-weight models usually served through ollama or groq.
	{match: "llama3", anywhere: true},
	{match: "mistral-large", context: 128_000, output: 8_192},
	{match: "deepseek-chat", context: 64_000, output: 8_192},
	{match: "deepseek-reasoner", context: 64_000, output: 8_192, noTools: true},
}

// CapabilitiesFor returns the static capabilities of a model by name.
// Unknown models get [DefaultCapabilities].
func CapabilitiesFor(model string) types.ModelCapabilities {
	caps := DefaultCapabilities
	lower := strings.ToLower(model)
	for _, f := range families {
		hit := strings.HasPrefix(lower, f.match)
		if f.anywhere {
			hit = strings.Contains(lower, f.match)
		}
		if !hit {
			continue
		}
		if f.context > 0 {
			caps.ContextWindow = f.context
		}
		if f.output > 0 {
			caps.MaxOutputTokens = f.output
		}
		if f.noTools {
			caps.SupportsToolCalling = false
		}
		break
	}
	return caps
}
