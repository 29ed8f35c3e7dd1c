package functions

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPublicMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"tool failure", Failf("no record named %q", "Initech"), `no record named "Initech"`},
		{"wrapped tool failure", fmt.Errorf("outer: %w", Failf("quota reached")), "quota reached"},
		{"unknown function", fmt.Errorf("%w: %q", ErrUnknownFunction, "nope"), "tool not found"},
		{"invalid arguments", fmt.Errorf("%w: greet: missing properties: [name]", ErrInvalidArguments), "invalid arguments"},
		{"internal", errors.New("find_entity: dial tcp 10.0.3.17:5432: connection refused"), "tool unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PublicMessage(context.Background(), "find_entity", tt.err); got != tt.want {
				t.Errorf("PublicMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
