package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
)

const (
	PetsCollection   = "pets"
	EventsCollection = "events"
)

// fields exposes the bookkeeping fields of a document.
type fields struct {
	id        *string
	createdAt *time.Time
	updatedAt *time.Time
}

// Collection is a typed view over one collection of the document store.
type Collection[T any] struct {
	store  *Store
	name   string
	fields func(*T) fields
	period func(*T) *Period
}

// NewPets returns the pets collection.
func NewPets(store *Store) *Collection[pet.Pet] {
	return &Collection[pet.Pet]{
		store: store,
		name:  PetsCollection,
		fields: func(p *pet.Pet) fields {
			return fields{id: &p.ID, createdAt: &p.CreatedAt, updatedAt: &p.UpdatedAt}
		},
	}
}

// NewEvents returns the events collection. Events carry a period so that
// InPeriod can find them.
func NewEvents(store *Store) *Collection[event.Event] {
	return &Collection[event.Event]{
		store: store,
		name:  EventsCollection,
		fields: func(e *event.Event) fields {
			return fields{id: &e.ID, createdAt: &e.CreatedAt, updatedAt: &e.UpdatedAt}
		},
		period: func(e *event.Event) *Period {
			return &Period{Start: e.StartDate, End: e.EndDate}
		},
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Add stores doc under a new id and returns it with the id set.
func (c *Collection[T]) Add(ctx context.Context, doc T) (T, error) {
	f := c.fields(&doc)
	now := time.Now().UTC()
	*f.id = uuid.NewString()
	*f.createdAt = now
	*f.updatedAt = now

	data, err := json.Marshal(doc)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("encode %s document: %w", c.name, err)
	}
	if err := c.store.insert(ctx, c.name, *f.id, data, c.periodOf(&doc)); err != nil {
		var zero T
		return zero, err
	}
	return doc, nil
}

// Update replaces the document stored under id.
func (c *Collection[T]) Update(ctx context.Context, id string, doc T) (T, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	f := c.fields(&doc)
	*f.id = id
	*f.createdAt = *c.fields(&existing).createdAt
	*f.updatedAt = time.Now().UTC()

	data, err := json.Marshal(doc)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("encode %s document: %w", c.name, err)
	}
	if err := c.store.replace(ctx, c.name, id, data, c.periodOf(&doc)); err != nil {
		var zero T
		return zero, err
	}
	return doc, nil
}

// Delete removes the document stored under id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.remove(ctx, c.name, id)
}

// Get returns the document stored under id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var doc T
	data, err := c.store.get(ctx, c.name, id)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return doc, nil
}

// List returns every document of the collection in insertion order.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	rows, err := c.store.list(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](c.name, rows)
}

// InPeriod returns documents overlapping [start, end], ordered by start then end.
func (c *Collection[T]) InPeriod(ctx context.Context, start, end time.Time) ([]T, error) {
	if c.period == nil {
		return nil, fmt.Errorf("collection %s has no period", c.name)
	}
	rows, err := c.store.overlapping(ctx, c.name, start, end)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](c.name, rows)
}

func (c *Collection[T]) periodOf(doc *T) *Period {
	if c.period == nil {
		return nil
	}
	return c.period(doc)
}

func decodeAll[T any](name string, rows [][]byte) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, data := range rows {
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", name, err)
		}
		out = append(out, doc)
	}
	return out, nil
}
