package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLoanCount(t *testing.T, db *Database, gameID int64) int {
	t.Helper()
	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM loans WHERE game_id = ? AND is_returned = 0`, gameID).Scan(&n); err != nil {
		t.Fatalf("count open loans: %v", err)
	}
	return n
}

func TestBorrowScenario(t *testing.T) {
	db, clock := tempDBWithClock(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	q := mustUser(t, db, "quinn", RolePatron)
	g := mustGame(t, db, lib, "G")

	reqP, err := db.RequestBorrow(ctx, p, g.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reqP.Status)

	clock.Advance(time.Hour)
	approvedAt := clock.Now()
	loan, err := db.ApproveBorrowRequest(ctx, lib, reqP.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, loan.BorrowerID)
	assert.True(t, loan.DueAt.Equal(approvedAt.AddDate(0, 0, 14)), "due %s", loan.DueAt)

	reqP, err = db.GetBorrowRequest(ctx, reqP.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reqP.Status)
	require.NotNil(t, reqP.ProcessedBy)
	assert.Equal(t, lib.ID, *reqP.ProcessedBy)
	require.NotNil(t, reqP.ProcessedAt)

	game, err := db.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, game.Available)

	// Q may queue a request while P holds the game, but approval conflicts.
	reqQ, err := db.RequestBorrow(ctx, q, g.ID, 7)
	require.NoError(t, err)
	_, err = db.ApproveBorrowRequest(ctx, lib, reqQ.ID)
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Equal(t, 1, openLoanCount(t, db, g.ID))

	returned, err := db.ReturnLoan(ctx, p, loan.ID)
	require.NoError(t, err)
	assert.True(t, returned.IsReturned)
	require.NotNil(t, returned.ReturnedAt)

	_, err = db.ReturnLoan(ctx, p, loan.ID)
	assert.Equal(t, CodeAlreadyReturned, CodeOf(err))

	loanQ, err := db.ApproveBorrowRequest(ctx, lib, reqQ.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, loanQ.BorrowerID)
	assert.Equal(t, 1, openLoanCount(t, db, g.ID))

	_, err = db.ApproveBorrowRequest(ctx, lib, reqQ.ID)
	assert.Equal(t, CodeAlreadyProcessed, CodeOf(err))
}

func TestRequestBorrowRules(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	g := mustGame(t, db, lib, "G")

	for _, days := range []int{0, 10, 30, -7} {
		_, err := db.RequestBorrow(ctx, p, g.ID, days)
		assert.Equal(t, CodeValidation, CodeOf(err), "duration %d", days)
	}

	_, err := db.RequestBorrow(ctx, p, 999, 7)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	req, err := db.RequestBorrow(ctx, p, g.ID, 7)
	require.NoError(t, err)
	_, err = db.RequestBorrow(ctx, p, g.ID, 21)
	assert.Equal(t, CodeDuplicateRequest, CodeOf(err))

	_, err = db.ApproveBorrowRequest(ctx, lib, req.ID)
	require.NoError(t, err)
	_, err = db.RequestBorrow(ctx, p, g.ID, 7)
	assert.Equal(t, CodeDuplicateRequest, CodeOf(err), "already borrowing")
}

func TestBorrowRequestPermissions(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	q := mustUser(t, db, "quinn", RolePatron)
	g := mustGame(t, db, lib, "G")

	req, err := db.RequestBorrow(ctx, p, g.ID, 7)
	require.NoError(t, err)

	_, err = db.ApproveBorrowRequest(ctx, p, req.ID)
	assert.Equal(t, CodePermission, CodeOf(err))
	_, err = db.RejectBorrowRequest(ctx, q, req.ID)
	assert.Equal(t, CodePermission, CodeOf(err))
	err = db.CancelBorrowRequest(ctx, q, req.ID)
	assert.Equal(t, CodePermission, CodeOf(err))

	loan, err := db.CheckoutGame(ctx, lib, mustGame(t, db, lib, "H").ID, 7)
	require.NoError(t, err)
	_, err = db.ReturnLoan(ctx, p, loan.ID)
	assert.Equal(t, CodePermission, CodeOf(err))
}

func TestRejectAndCancelBorrowRequest(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	g := mustGame(t, db, lib, "G")

	req, err := db.RequestBorrow(ctx, p, g.ID, 7)
	require.NoError(t, err)
	rejected, err := db.RejectBorrowRequest(ctx, lib, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, err = db.RejectBorrowRequest(ctx, lib, req.ID)
	assert.Equal(t, CodeAlreadyProcessed, CodeOf(err))
	err = db.CancelBorrowRequest(ctx, p, req.ID)
	assert.Equal(t, CodeAlreadyProcessed, CodeOf(err))

	// A rejected request does not block a new one.
	again, err := db.RequestBorrow(ctx, p, g.ID, 28)
	require.NoError(t, err)
	require.NoError(t, db.CancelBorrowRequest(ctx, p, again.ID))
	_, err = db.GetBorrowRequest(ctx, again.ID)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	pending, err := db.ListBorrowRequests(ctx, StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := db.ListBorrowRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckoutGameUnavailable(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	g := mustGame(t, db, lib, "G")

	_, err := db.CheckoutGame(ctx, p, g.ID, 7)
	assert.Equal(t, CodePermission, CodeOf(err))

	_, err = db.CheckoutGame(ctx, lib, g.ID, 7)
	require.NoError(t, err)
	_, err = db.CheckoutGame(ctx, lib, g.ID, 7)
	assert.Equal(t, CodeUnavailable, CodeOf(err))

	open, err := db.OpenLoanForGame(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, lib.ID, open.BorrowerID)
}

func TestDeleteGameWithOpenLoanChangesNothing(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	q := mustUser(t, db, "quinn", RolePatron)
	g := mustGame(t, db, lib, "G")

	req, err := db.RequestBorrow(ctx, p, g.ID, 7)
	require.NoError(t, err)
	_, err = db.ApproveBorrowRequest(ctx, lib, req.ID)
	require.NoError(t, err)
	_, err = db.RequestBorrow(ctx, q, g.ID, 7)
	require.NoError(t, err)

	err = db.DeleteGame(ctx, lib, g.ID)
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))

	_, err = db.GetGame(ctx, g.ID)
	require.NoError(t, err)
	reqs, err := db.ListBorrowRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
	assert.Equal(t, 1, openLoanCount(t, db, g.ID))
}

func TestOverdueLoans(t *testing.T) {
	db, clock := tempDBWithClock(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	p := mustUser(t, db, "pia", RolePatron)
	short := mustGame(t, db, lib, "Short")
	long := mustGame(t, db, lib, "Long")

	for _, tc := range []struct {
		game *Game
		days int
	}{{short, 7}, {long, 28}} {
		req, err := db.RequestBorrow(ctx, p, tc.game.ID, tc.days)
		require.NoError(t, err)
		_, err = db.ApproveBorrowRequest(ctx, lib, req.ID)
		require.NoError(t, err)
	}

	clock.Advance(8 * 24 * time.Hour)
	overdue, err := db.ListOverdueLoans(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, short.ID, overdue[0].GameID)

	loans, err := db.ListUserLoans(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 2)
}

// TestConcurrentApprovals races approvals of different requests for the
// same game; exactly one may open a loan.
func TestConcurrentApprovals(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	g := mustGame(t, db, lib, "Contested")

	const borrowers = 6
	var requests []int64
	for i := 0; i < borrowers; i++ {
		p := mustUser(t, db, "patron"+string(rune('a'+i)), RolePatron)
		req, err := db.RequestBorrow(ctx, p, g.ID, 7)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		requests = append(requests, req.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		conflicts int
		other     []error
	)
	for _, id := range requests {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := db.ApproveBorrowRequest(ctx, lib, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case IsCode(err, CodeConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(id)
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if approved != 1 || conflicts != borrowers-1 {
		t.Fatalf("want 1 approval and %d conflicts, got %d and %d", borrowers-1, approved, conflicts)
	}
	if n := openLoanCount(t, db, g.ID); n != 1 {
		t.Fatalf("want 1 open loan, got %d", n)
	}
}
