package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testClock is a settable clock shared by the store and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOptions(clock *testClock) Options {
	return Options{BcryptCost: bcrypt.MinCost, Now: clock.Now}
}

func tempDB(t *testing.T) *Database {
	t.Helper()
	db, _ := tempDBWithClock(t)
	return db
}

func tempDBWithClock(t *testing.T) (*Database, *testClock) {
	t.Helper()
	clock := newTestClock()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"), testOptions(clock))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, clock
}

func mustUser(t *testing.T, db *Database, username string, role Role) Actor {
	t.Helper()
	u, err := db.RegisterUser(context.Background(), Registration{Username: username, Password: "secret123", Role: RolePatron})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if role == RoleLibrarian {
		if _, err := db.db.Exec(`UPDATE users SET role = 'librarian' WHERE id = ?`, u.ID); err != nil {
			t.Fatalf("promote %s: %v", username, err)
		}
	}
	return Actor{ID: u.ID, Role: role}
}

func mustGame(t *testing.T, db *Database, librarian Actor, title string) *Game {
	t.Helper()
	g, err := db.AddGame(context.Background(), librarian, GameInput{Title: title, Description: title + " description", Platform: "Switch"})
	if err != nil {
		t.Fatalf("add game %s: %v", title, err)
	}
	return g
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	clock := newTestClock()

	db, err := NewDatabase(path, testOptions(clock))
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	lib := mustUser(t, db, "libby", RoleLibrarian)
	mustGame(t, db, lib, "Celeste")
	db.Close()

	db, err = NewDatabase(path, testOptions(clock))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var version int
	if err := db.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("want schema version %d, got %d", schemaVersion, version)
	}
	games, err := db.ListGames(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("want 1 game after reopen, got %d", len(games))
	}
}

func TestAddGameAssignsValidUPC(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)

	release := time.Date(2018, time.January, 25, 0, 0, 0, 0, time.UTC)
	g, err := db.AddGame(ctx, lib, GameInput{
		Title:       "  Celeste ",
		Description: "Climb the mountain",
		ReleaseDate: &release,
		Genre:       "Platformer",
		Platform:    "Switch",
		Location:    "Shelf A",
	})
	require.NoError(t, err)
	assert.Equal(t, "Celeste", g.Title)
	assert.True(t, ValidateUPC(g.UPC), "upc %s", g.UPC)
	assert.Len(t, g.UPC, 12)
	assert.True(t, g.Available)
	require.NotNil(t, g.ReleaseDate)
	assert.True(t, g.ReleaseDate.Equal(release))

	byUPC, err := db.GetGameByUPC(ctx, g.UPC)
	require.NoError(t, err)
	assert.Equal(t, g.ID, byUPC.ID)
}

func TestAddGameFallsBackWhenUPCSpaceCollides(t *testing.T) {
	clock := newTestClock()
	opts := testOptions(clock)
	opts.UPCMaxAttempts = 2
	// Constant digits make every 12-digit attempt identical.
	opts.IntN = func(int) int { return 4 }
	db, err := NewDatabase(filepath.Join(t.TempDir(), "upc.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lib := mustUser(t, db, "libby", RoleLibrarian)
	first := mustGame(t, db, lib, "First")
	second := mustGame(t, db, lib, "Second")
	assert.Len(t, first.UPC, 12)
	assert.Len(t, second.UPC, 13)

	_, err = db.AddGame(context.Background(), lib, GameInput{Title: "Third", Description: "x"})
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))
}

func TestAddGameRequiresLibrarian(t *testing.T) {
	db := tempDB(t)
	patron := mustUser(t, db, "pat", RolePatron)
	_, err := db.AddGame(context.Background(), patron, GameInput{Title: "Celeste", Description: "x"})
	require.Error(t, err)
	assert.Equal(t, CodePermission, CodeOf(err))
}

func TestAddGameValidation(t *testing.T) {
	db := tempDB(t)
	lib := mustUser(t, db, "libby", RoleLibrarian)
	_, err := db.AddGame(context.Background(), lib, GameInput{Title: "   "})
	require.Error(t, err)
	assert.Equal(t, CodeValidation, CodeOf(err))

	details, ok := As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "title")
	assert.Contains(t, details, "description")
}

func TestUpdateGameKeepsUPC(t *testing.T) {
	db, clock := tempDBWithClock(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	g := mustGame(t, db, lib, "Hades")

	clock.Advance(time.Hour)
	updated, err := db.UpdateGame(ctx, lib, g.ID, GameInput{Title: "Hades II", Description: "Sequel", Genre: "Roguelike"})
	require.NoError(t, err)
	assert.Equal(t, g.UPC, updated.UPC)
	assert.Equal(t, "Hades II", updated.Title)
	assert.True(t, updated.UpdatedAt.After(g.UpdatedAt))

	_, err = db.UpdateGame(ctx, lib, 999, GameInput{Title: "x", Description: "y"})
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestSearchGames(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	mustGame(t, db, lib, "Hollow Knight")
	mustGame(t, db, lib, "Celeste")
	if _, err := db.AddGame(ctx, lib, GameInput{Title: "Tetris", Description: "Blocks 100%", Genre: "Puzzle"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	res, err := db.SearchGames(ctx, "hollow")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Hollow Knight", res[0].Title)

	res, err = db.SearchGames(ctx, "puzzle")
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = db.SearchGames(ctx, "%")
	require.NoError(t, err)
	require.Len(t, res, 1, "percent is matched literally")

	res, err = db.SearchGames(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDeleteGameCascades(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	g := mustGame(t, db, lib, "Celeste")
	other := mustGame(t, db, lib, "Hades")

	_, err := db.CreateCollection(ctx, pat, CollectionInput{Name: "Faves", Description: "d", GameIDs: []int64{g.ID, other.ID}})
	require.NoError(t, err)
	_, err = db.RequestBorrow(ctx, pat, g.ID, 7)
	require.NoError(t, err)
	_, err = db.RateGame(ctx, pat, g.ID, 5)
	require.NoError(t, err)

	require.NoError(t, db.DeleteGame(ctx, lib, g.ID))

	_, err = db.GetGame(ctx, g.ID)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	reqs, err := db.ListUserBorrowRequests(ctx, pat.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	cols, err := db.CollectionsForGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, cols)
}
