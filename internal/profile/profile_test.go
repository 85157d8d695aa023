package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/testutil"
)

func TestRepository_Snapshot(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.DB(t).SQL)

	t.Run("DefaultWhenMissing", func(t *testing.T) {
		s, err := repo.Snapshot(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, Default("ghost"), s)
	})

	t.Run("SaveAndReplace", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, Snapshot{UserID: "u1", FirstName: "Awa", Allergies: []string{"peanut"}, MealsPerDay: 4}))
		require.NoError(t, repo.Save(ctx, Snapshot{UserID: "u1", FirstName: "Awa", WeightKg: 82.5, MealsPerDay: 4}))

		s, err := repo.Snapshot(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 82.5, s.WeightKg)
		assert.Empty(t, s.Allergies)
		assert.Equal(t, 4, s.MealsPerDay)
		assert.Equal(t, "fr", s.Locale, "unset fields keep defaults")
	})
}
