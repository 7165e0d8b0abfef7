package library

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateGameUpserts(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	g := mustGame(t, db, lib, "Celeste")

	summary, err := db.GameRating(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.Count)

	_, err = db.RateGame(ctx, pat, g.ID, 2)
	require.NoError(t, err)
	r, err := db.RateGame(ctx, pat, g.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Score)
	_, err = db.RateGame(ctx, lib, g.ID, 5)
	require.NoError(t, err)

	summary, err = db.GameRating(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.InDelta(t, 4.5, summary.Average, 0.001)

	for _, score := range []int{0, 6} {
		_, err = db.RateGame(ctx, pat, g.ID, score)
		assert.Equal(t, CodeValidation, CodeOf(err))
	}
	_, err = db.RateGame(ctx, pat, 999, 3)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestComments(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	g := mustGame(t, db, lib, "Celeste")

	_, err := db.AddComment(ctx, pat, g.ID, "  ")
	assert.Equal(t, CodeValidation, CodeOf(err))
	_, err = db.AddComment(ctx, pat, g.ID, strings.Repeat("a", maxCommentLength+1))
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = db.AddComment(ctx, pat, g.ID, "Great climbing game")
	require.NoError(t, err)
	_, err = db.AddComment(ctx, lib, g.ID, "Shelf A, top row")
	require.NoError(t, err)

	comments, err := db.ListComments(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "Great climbing game", comments[0].Body)
	assert.Equal(t, lib.ID, comments[1].UserID)
}
