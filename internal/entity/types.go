// Package entity holds the business records that the local function registry
// exposes to the language model as tools.
//
// Three kinds of records are managed: clients, employees and locations. A
// deployment typically seeds the store from a YAML file at start-up
// ([LoadSeedFile]) and lets the model read and create records at runtime via
// the functions in internal/functions.
//
// All store operations are safe for concurrent use.
package entity

import "time"

// Kind classifies a business record.
type Kind string

const (
	// KindClient is a customer organisation or person.
	KindClient Kind = "client"

	// KindEmployee is a member of staff.
	KindEmployee Kind = "employee"

	// KindLocation is an office, site or other physical place.
	KindLocation Kind = "location"
)

// Kinds lists every recognised [Kind] in a stable order.
var Kinds = []Kind{KindClient, KindEmployee, KindLocation}

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindClient, KindEmployee, KindLocation:
		return true
	}
	return false
}

// Entity is a single business record.
type Entity struct {
	// ID is a unique identifier. A UUID is generated when empty on insert.
	ID string `yaml:"id" json:"id"`

	// Kind classifies the record.
	Kind Kind `yaml:"kind" json:"kind"`

	// Name is the display name; lookups by name are case-insensitive.
	Name string `yaml:"name" json:"name"`

	// Description is free text.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Attributes holds arbitrary key-value metadata (email, city, role, ...).
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`

	// Tags are searchable labels.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// CreatedAt is set by the store on insert when zero.
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"createdAt"`
}

// Map renders e as a JSON-style mapping suitable for a tool's structured
// payload.
func (e Entity) Map() map[string]any {
	m := map[string]any{
		"id":   e.ID,
		"kind": string(e.Kind),
		"name": e.Name,
	}
	if e.Description != "" {
		m["description"] = e.Description
	}
	if len(e.Attributes) > 0 {
		attrs := make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		m["attributes"] = attrs
	}
	if len(e.Tags) > 0 {
		tags := make([]any, len(e.Tags))
		for i, t := range e.Tags {
			tags[i] = t
		}
		m["tags"] = tags
	}
	return m
}
