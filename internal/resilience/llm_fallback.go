package resilience

import (
	"context"

	"github.com/MrWong99/colloquy/pkg/provider/llm"
	"github.com/MrWong99/colloquy/pkg/types"
)

// LLMChain implements [llm.Provider] with failover across several model
// backends. Each backend has its own breaker.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain returns a chain that prefers primary.
func NewLLMChain(primaryName string, primary llm.Provider, cfg ChainConfig) *LLMChain {
	return &LLMChain{chain: NewChain(primaryName, primary, cfg)}
}

// Add registers a fallback provider.
func (c *LLMChain) Add(name string, p llm.Provider) {
	c.chain.Add(name, p)
}

// Len returns the number of providers in the chain.
func (c *LLMChain) Len() int { return c.chain.Len() }

// States reports the breaker state of every provider by name.
func (c *LLMChain) States() map[string]State { return c.chain.States() }

// Complete sends req to the first healthy provider.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, c.chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the primary's capabilities. Capabilities are static and
// do not take part in failover.
func (c *LLMChain) Capabilities() types.ModelCapabilities {
	return c.chain.Primary().Capabilities()
}
