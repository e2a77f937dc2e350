package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaceStoreCRUD(t *testing.T) {
	store, err := NewRaceStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Create(ctx, Race{
		AthleteID: 100,
		Name:      "Spring Half",
		Date:      "2024-04-14",
		Distance:  21097.5,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = store.Create(ctx, Race{AthleteID: 100, Name: "Autumn 10k", Date: "2024-10-06", Distance: 10000})
	require.NoError(t, err)
	_, err = store.Create(ctx, Race{AthleteID: 200, Name: "Not mine", Date: "2024-05-01", Distance: 5000})
	require.NoError(t, err)

	races, err := store.List(ctx, 100)
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, "Spring Half", races[0].Name)
	assert.Equal(t, "Autumn 10k", races[1].Name)

	// deleting with the wrong athlete must not remove the row
	deleted, err := store.Delete(ctx, 200, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.Delete(ctx, 100, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	races, err = store.List(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, races, 1)
}

func TestRaceStoreEmptyList(t *testing.T) {
	store, err := NewRaceStore(openTestDB(t))
	require.NoError(t, err)
	races, err := store.List(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, races)
	assert.Empty(t, races)
}
