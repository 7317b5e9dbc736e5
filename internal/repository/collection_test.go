package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "pawtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPetsCRUD(t *testing.T) {
	ctx := context.Background()
	pets := NewPets(openStore(t))

	added, err := pets.Add(ctx, pet.Pet{Name: "Pablo", Species: "dog"})
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)
	assert.False(t, added.CreatedAt.IsZero())

	second, err := pets.Add(ctx, pet.Pet{Name: "Mina", Species: "cat"})
	require.NoError(t, err)

	got, err := pets.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pablo", got.Name)

	got.Breed = "Beagle"
	updated, err := pets.Update(ctx, added.ID, got)
	require.NoError(t, err)
	assert.Equal(t, added.CreatedAt.UnixMilli(), updated.CreatedAt.UnixMilli())

	list, err := pets.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Beagle", list[0].Breed)
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, pets.Delete(ctx, added.ID))
	_, err = pets.Get(ctx, added.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, pets.Delete(ctx, added.ID), ErrNotFound)
	_, err = pets.Update(ctx, added.ID, got)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := NewPets(store).Add(ctx, pet.Pet{Name: "Pablo"})
	require.NoError(t, err)

	events, err := NewEvents(store).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = NewPets(store).InPeriod(ctx, time.Now(), time.Now())
	require.Error(t, err)
}

func TestEventsInPeriod(t *testing.T) {
	ctx := context.Background()
	events := NewEvents(openStore(t))

	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }
	add := func(title string, start, end time.Time) {
		_, err := events.Add(ctx, event.Event{Title: title, PetIDs: []string{"1"}, Type: event.Feeding, StartDate: start, EndDate: end})
		require.NoError(t, err)
	}

	add("before", day(1, 8), day(1, 9))
	add("touches start", day(2, 8), day(3, 0))
	add("inside late", day(4, 12), day(4, 13))
	add("inside early", day(4, 8), day(4, 9))
	add("same start longer", day(4, 8), day(4, 18))
	add("spans", day(1, 0), day(30, 0))
	add("touches end", day(5, 0), day(5, 1))
	add("after", day(6, 0), day(6, 1))

	got, err := events.InPeriod(ctx, day(3, 0), day(5, 0))
	require.NoError(t, err)

	titles := make([]string, 0, len(got))
	for _, e := range got {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"spans", "touches start", "inside early", "same start longer", "inside late", "touches end"}, titles)
}
