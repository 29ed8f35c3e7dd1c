package functions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/colloquy/internal/entity"
)

// UI component tags attached to entity function results.
const (
	UIEntityDetail = "entity-detail"
	UIEntityList   = "entity-list"
	UIReport       = "report"
)

// defaultListLimit caps list_entities when the model does not pass a limit.
const defaultListLimit = 20

// ─────────────────────────────────────────────────────────────────────────────
// Argument types
// ─────────────────────────────────────────────────────────────────────────────

type findEntityArgs struct {
	Name string `json:"name" jsonschema:"Name or name prefix of the record to look up"`
	Kind string `json:"kind,omitempty" jsonschema:"Restrict the lookup to one kind of record"`
}

type listEntitiesArgs struct {
	Kind  string `json:"kind,omitempty" jsonschema:"Restrict the listing to one kind of record"`
	Query string `json:"query,omitempty" jsonschema:"Substring matched against name and description"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of records to return"`
}

type createEntityArgs struct {
	Kind        string            `json:"kind" jsonschema:"Kind of record to create"`
	Name        string            `json:"name" jsonschema:"Display name of the new record"`
	Description string            `json:"description,omitempty" jsonschema:"Free-text description"`
	Attributes  map[string]string `json:"attributes,omitempty" jsonschema:"Extra key-value details such as email or city"`
}

type entityReportArgs struct {
	Kind string `json:"kind,omitempty" jsonschema:"Restrict the report to one kind of record"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Constructors
// ─────────────────────────────────────────────────────────────────────────────

// EntityFunctions returns the business functions backed by store:
// find_entity, list_entities, create_entity and entity_report.
func EntityFunctions(store entity.Store) ([]Function, error) {
	kinds := kindEnum()

	find, err := Typed("find_entity",
		"Look up a single client, employee or location by name.",
		makeFindEntity(store), WithEnum("kind", kinds...))
	if err != nil {
		return nil, err
	}
	list, err := Typed("list_entities",
		"List clients, employees or locations, optionally filtered by kind or a search query.",
		makeListEntities(store), WithEnum("kind", kinds...), WithMinimum("limit", 1))
	if err != nil {
		return nil, err
	}
	create, err := Typed("create_entity",
		"Create a new client, employee or location record.",
		makeCreateEntity(store), WithEnum("kind", kinds...))
	if err != nil {
		return nil, err
	}
	report, err := Typed("entity_report",
		"Summarise how many records of each kind exist.",
		makeEntityReport(store), WithEnum("kind", kinds...))
	if err != nil {
		return nil, err
	}
	return []Function{find, list, create, report}, nil
}

// RegisterEntityFunctions registers every [EntityFunctions] entry in r.
func RegisterEntityFunctions(r *Registry, store entity.Store) error {
	fns, err := EntityFunctions(store)
	if err != nil {
		return err
	}
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func makeFindEntity(store entity.Store) func(context.Context, findEntityArgs) (*Result, error) {
	return func(ctx context.Context, a findEntityArgs) (*Result, error) {
		if strings.TrimSpace(a.Name) == "" {
			return nil, Failf("name must not be empty")
		}
		e, err := store.FindByName(ctx, entity.Kind(a.Kind), a.Name)
		if errors.Is(err, entity.ErrNotFound) {
			return nil, Failf("no record named %q", a.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("find_entity: %w", err)
		}
		return &Result{Text: summary(e), Data: e.Map(), UIComponent: UIEntityDetail}, nil
	}
}

func makeListEntities(store entity.Store) func(context.Context, listEntitiesArgs) (*Result, error) {
	return func(ctx context.Context, a listEntitiesArgs) (*Result, error) {
		limit := a.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		found, err := store.List(ctx, entity.ListOptions{
			Kind:  entity.Kind(a.Kind),
			Query: a.Query,
			Limit: limit,
		})
		if err != nil {
			return nil, fmt.Errorf("list_entities: %w", err)
		}

		items := make([]any, len(found))
		names := make([]string, len(found))
		for i, e := range found {
			items[i] = e.Map()
			names[i] = e.Name
		}
		text := "no matching records"
		if len(found) > 0 {
			text = fmt.Sprintf("%d found: %s", len(found), strings.Join(names, ", "))
		}
		return &Result{
			Text:        text,
			Data:        map[string]any{"items": items, "count": len(found)},
			UIComponent: UIEntityList,
		}, nil
	}
}

func makeCreateEntity(store entity.Store) func(context.Context, createEntityArgs) (*Result, error) {
	return func(ctx context.Context, a createEntityArgs) (*Result, error) {
		e := entity.Entity{
			Kind:        entity.Kind(a.Kind),
			Name:        strings.TrimSpace(a.Name),
			Description: a.Description,
			Attributes:  a.Attributes,
		}
		if err := entity.Validate(e); err != nil {
			return nil, Failf("%s", strings.ReplaceAll(err.Error(), "\n", "; "))
		}
		created, err := store.Add(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("create_entity: %w", err)
		}
		return &Result{
			Text:        fmt.Sprintf("created %s %s", created.Kind, created.Name),
			Data:        created.Map(),
			UIComponent: UIEntityDetail,
		}, nil
	}
}

func makeEntityReport(store entity.Store) func(context.Context, entityReportArgs) (*Result, error) {
	return func(ctx context.Context, a entityReportArgs) (*Result, error) {
		kinds := entity.Kinds
		if a.Kind != "" {
			kinds = []entity.Kind{entity.Kind(a.Kind)}
		}

		counts := make(map[string]any, len(kinds))
		parts := make([]string, 0, len(kinds))
		total := 0
		for _, k := range kinds {
			found, err := store.List(ctx, entity.ListOptions{Kind: k})
			if err != nil {
				return nil, fmt.Errorf("entity_report: %w", err)
			}
			counts[string(k)] = len(found)
			parts = append(parts, fmt.Sprintf("%ss: %d", k, len(found)))
			total += len(found)
		}
		return &Result{
			Text:        strings.Join(parts, ", "),
			Data:        map[string]any{"counts": counts, "total": total},
			UIComponent: UIReport,
		}, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func kindEnum() []any {
	out := make([]any, len(entity.Kinds))
	for i, k := range entity.Kinds {
		out[i] = string(k)
	}
	return out
}

// summary renders e as one line: the name, followed by the description when set.
func summary(e entity.Entity) string {
	if e.Description == "" {
		return e.Name
	}
	return e.Name + " (" + e.Description + ")"
}
