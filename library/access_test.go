package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func privateCollection(t *testing.T, db *Database, lib Actor, games ...*Game) *Collection {
	t.Helper()
	ids := make([]int64, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.ID)
	}
	c, err := db.CreateCollection(context.Background(), lib, CollectionInput{Name: "Vault", Description: "staff picks", GameIDs: ids, IsPrivate: true})
	if err != nil {
		t.Fatalf("create private collection: %v", err)
	}
	return c
}

func TestRejectThenRequestAgainReopens(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	c := privateCollection(t, db, lib, mustGame(t, db, lib, "A"))

	first, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessCreated, first.Outcome)

	again, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessAlreadyPending, again.Outcome)
	assert.Equal(t, first.Request.ID, again.Request.ID)

	rejected, err := db.RejectAccessRequest(ctx, lib, first.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.ProcessedBy)

	reopened, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessReopened, reopened.Outcome)
	assert.Equal(t, first.Request.ID, reopened.Request.ID)
	assert.Equal(t, StatusPending, reopened.Request.Status)
	assert.Nil(t, reopened.Request.ProcessedBy)

	all, err := db.ListAccessRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRequestAccessValidation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	g := mustGame(t, db, lib, "A")
	pub, err := db.CreateCollection(ctx, pat, CollectionInput{Name: "Open", Description: "d", GameIDs: []int64{g.ID}})
	require.NoError(t, err)
	priv := privateCollection(t, db, lib, mustGame(t, db, lib, "B"))

	_, err = db.RequestAccess(ctx, pat, pub.ID)
	assert.Equal(t, CodeValidation, CodeOf(err), "public collection")
	_, err = db.RequestAccess(ctx, lib, priv.ID)
	assert.Equal(t, CodeValidation, CodeOf(err), "librarian already sees it")
	_, err = db.RequestAccess(ctx, pat, 999)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestApproveAccessLendsEveryAvailableGame(t *testing.T) {
	db, clock := tempDBWithClock(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	other := mustUser(t, db, "other", RolePatron)
	a := mustGame(t, db, lib, "A")
	b := mustGame(t, db, lib, "B")
	c := privateCollection(t, db, lib, a, b)

	// B is already out with someone else.
	req, err := db.RequestBorrow(ctx, other, b.ID, 7)
	require.NoError(t, err)
	_, err = db.ApproveBorrowRequest(ctx, lib, req.ID)
	require.NoError(t, err)

	res, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)

	_, err = db.ApproveAccessRequest(ctx, pat, res.Request.ID)
	assert.Equal(t, CodePermission, CodeOf(err))

	clock.Advance(time.Hour)
	approval, err := db.ApproveAccessRequest(ctx, lib, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approval.Request.Status)
	require.Len(t, approval.Loans, 1)
	assert.Equal(t, a.ID, approval.Loans[0].GameID)
	assert.Equal(t, pat.ID, approval.Loans[0].BorrowerID)
	assert.True(t, approval.Loans[0].DueAt.Equal(clock.Now().AddDate(0, 0, DefaultLoanDays)))
	assert.Equal(t, []int64{b.ID}, approval.Skipped)

	assert.Equal(t, 1, openLoanCount(t, db, a.ID))
	assert.Equal(t, 1, openLoanCount(t, db, b.ID))

	_, err = db.ApproveAccessRequest(ctx, lib, res.Request.ID)
	assert.Equal(t, CodeAlreadyProcessed, CodeOf(err))

	again, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessAlreadyApproved, again.Outcome)

	ok, err := db.HasCollectionAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListAccessRequestsByStatus(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	other := mustUser(t, db, "other", RolePatron)
	c := privateCollection(t, db, lib, mustGame(t, db, lib, "A"))

	r1, err := db.RequestAccess(ctx, pat, c.ID)
	require.NoError(t, err)
	_, err = db.RequestAccess(ctx, other, c.ID)
	require.NoError(t, err)
	_, err = db.RejectAccessRequest(ctx, lib, r1.Request.ID)
	require.NoError(t, err)

	pending, err := db.ListAccessRequests(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].RequesterID)

	_, err = db.ListAccessRequests(ctx, RequestStatus("expired"))
	assert.Equal(t, CodeValidation, CodeOf(err))
}
