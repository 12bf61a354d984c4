package repositories_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func TestLocationRepository_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewLocationRepository(db, getTestLogger())
	ctx := context.Background()

	// Registry feeds carry the id; a blank one is a caller bug
	err := repo.Upsert(ctx, &models.Location{Name: "Nørrebro Locker"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	id := uuid.New()
	require.NoError(t, repo.Upsert(ctx, &models.Location{ID: id, Name: "Nørrebro Locker"}))

	created, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Nørrebro Locker", created.Name)

	// Replaying the feed with a new name refreshes the row in place
	require.NoError(t, repo.Upsert(ctx, &models.Location{ID: id, Name: "Nørrebro Locker Hall"}))

	renamed, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Nørrebro Locker Hall", renamed.Name)
	assert.WithinDuration(t, created.CreatedAt, renamed.CreatedAt, time.Second)

	locations, err := repo.List(ctx)
	require.NoError(t, err)
	assert.True(t, containsLocation(locations, id))
}

func containsLocation(list []models.Location, id uuid.UUID) bool {
	for _, l := range list {
		if l.ID == id {
			return true
		}
	}
	return false
}
