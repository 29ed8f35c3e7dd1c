package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the top-level structure of an entity seed YAML file.
//
// Example:
//
//	entities:
//	  - name: "Acme"
//	    kind: client
//	    description: "Industrial supplies"
//	    attributes:
//	      email: "ops@acme.example"
//	  - name: "Berlin HQ"
//	    kind: location
type SeedFile struct {
	Entities []Entity `yaml:"entities"`
}

// LoadSeedFile reads and parses a seed YAML file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadSeedFromReader parses seed YAML from r and validates every entity.
// Unknown keys are rejected.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("entity: decode seed yaml: %w", err)
	}

	var errs []error
	for i, e := range sf.Entities {
		if err := Validate(e); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("entity: invalid seed: %w", err)
	}
	return &sf, nil
}

// Seed imports every entity of sf into store and returns the count.
func Seed(ctx context.Context, store Store, sf *SeedFile) (int, error) {
	if sf == nil {
		return 0, errors.New("entity: seed file must not be nil")
	}
	n, err := store.BulkImport(ctx, sf.Entities)
	if err != nil {
		return n, fmt.Errorf("entity: seed: %w", err)
	}
	return n, nil
}
