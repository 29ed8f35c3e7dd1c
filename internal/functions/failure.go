package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/colloquy/internal/observe"
)

// ToolFailure is an application-level failure whose message is safe to show
// to the user and the model, such as a lookup that found nothing. Handlers
// return it through [Failf]; every other handler error is treated as
// internal and never leaves the process verbatim.
type ToolFailure struct {
	Message string
}

func (f *ToolFailure) Error() string { return f.Message }

// Failf returns a [*ToolFailure] with a formatted message.
func Failf(format string, args ...any) error {
	return &ToolFailure{Message: fmt.Sprintf(format, args...)}
}

// AsFailure reports whether err carries a [*ToolFailure] and returns its
// message.
func AsFailure(err error) (string, bool) {
	var tf *ToolFailure
	if errors.As(err, &tf) {
		return tf.Message, true
	}
	return "", false
}

// PublicMessage maps an [Registry.Execute] error to text that may be returned
// to an MCP client. Anything that is not a [*ToolFailure] or one of the
// registry sentinels is logged and reported as "tool unavailable".
func PublicMessage(ctx context.Context, name string, err error) string {
	if msg, ok := AsFailure(err); ok {
		return msg
	}
	switch {
	case errors.Is(err, ErrUnknownFunction):
		return "tool not found"
	case errors.Is(err, ErrInvalidArguments):
		return "invalid arguments"
	}
	observe.Logger(ctx).Warn("functions: call failed", "tool", name, "err", err)
	return "tool unavailable"
}
