package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks an [Entity] for required fields.
//
// Rules:
//   - Name must be non-empty after trimming.
//   - Kind must be a recognised [Kind].
//   - Attribute keys must be non-empty.
func Validate(e Entity) error {
	var errs []error

	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !e.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("kind %q is not one of client, employee, location", e.Kind))
	}
	for k := range e.Attributes {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("attribute keys must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}
