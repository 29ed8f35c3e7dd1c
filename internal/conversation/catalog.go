package conversation

import (
	"context"

	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/types"
)

// ToolLister is the read side of a tool provider.
type ToolLister interface {
	AvailableTools(ctx context.Context) ([]types.ToolDefinition, error)
}

// CatalogConfig configures a [Catalog].
type CatalogConfig struct {
	// Enabled turns tool calling on. A disabled catalog is always empty.
	Enabled bool
}

// Catalog lists the tools offered to the model on each turn.
type Catalog struct {
	lister ToolLister
	cfg    CatalogConfig
}

// NewCatalog returns a catalog reading from lister. lister may be nil when
// cfg.Enabled is false.
func NewCatalog(lister ToolLister, cfg CatalogConfig) *Catalog {
	return &Catalog{lister: lister, cfg: cfg}
}

// ListAvailable returns the current tools. It never fails: a disabled
// catalog or a provider error yields an empty list, and the turn continues
// without tools.
func (c *Catalog) ListAvailable(ctx context.Context) []types.ToolDefinition {
	if !c.cfg.Enabled || c.lister == nil {
		return nil
	}
	tools, err := c.lister.AvailableTools(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("conversation: list tools failed, continuing without tools", "err", err)
		return nil
	}
	return tools
}
