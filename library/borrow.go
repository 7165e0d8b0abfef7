package library

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const borrowRequestColumns = `id, game_id, requester_id, status, duration_days, requested_at, processed_at, processed_by`

const loanColumns = `id, game_id, borrower_id, borrowed_at, due_at, returned_at, is_returned`

func scanBorrowRequest(row rowScanner) (*BorrowRequest, error) {
	var (
		r           BorrowRequest
		processedAt sql.NullTime
		processedBy sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.GameID, &r.RequesterID, &r.Status, &r.DurationDays, &r.RequestedAt,
		&processedAt, &processedBy); err != nil {
		return nil, err
	}
	r.ProcessedAt = nullTime(processedAt)
	r.ProcessedBy = nullInt64(processedBy)
	return &r, nil
}

func scanLoan(row rowScanner) (*Loan, error) {
	var (
		l          Loan
		returnedAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.GameID, &l.BorrowerID, &l.BorrowedAt, &l.DueAt, &returnedAt, &l.IsReturned); err != nil {
		return nil, err
	}
	l.ReturnedAt = nullTime(returnedAt)
	return &l, nil
}

func (d *Database) queryBorrowRequests(ctx context.Context, query string, args ...any) ([]*BorrowRequest, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal(err, "list borrow requests")
	}
	defer rows.Close()
	var out []*BorrowRequest
	for rows.Next() {
		r, err := scanBorrowRequest(rows)
		if err != nil {
			return nil, internal(err, "scan borrow request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "list borrow requests")
	}
	return out, nil
}

func (d *Database) queryLoans(ctx context.Context, query string, args ...any) ([]*Loan, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal(err, "list loans")
	}
	defer rows.Close()
	var out []*Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, internal(err, "scan loan")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "list loans")
	}
	return out, nil
}

func getBorrowRequest(ctx context.Context, q querier, id int64) (*BorrowRequest, error) {
	r, err := scanBorrowRequest(q.QueryRowContext(ctx, `SELECT `+borrowRequestColumns+` FROM borrow_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "borrow request %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load borrow request")
	}
	return r, nil
}

func getLoan(ctx context.Context, q querier, id int64) (*Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "loan %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load loan")
	}
	return l, nil
}

func hasOpenLoan(ctx context.Context, q querier, gameID int64) (bool, error) {
	open, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM loans WHERE game_id = ? AND is_returned = 0)`, gameID)
	if err != nil {
		return false, internal(err, "check open loan")
	}
	return open, nil
}

// insertLoan opens a loan of days length starting at now. A concurrent open
// loan for the same game surfaces as CodeConflict.
func insertLoan(ctx context.Context, tx *sql.Tx, gameID, borrowerID int64, now time.Time, days int) (*Loan, error) {
	due := now.AddDate(0, 0, days)
	res, err := tx.ExecContext(ctx, `INSERT INTO loans(game_id, borrower_id, borrowed_at, due_at, is_returned) VALUES(?,?,?,?,0)`,
		gameID, borrowerID, now, due)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, Newf(CodeConflict, "game %d already has an open loan", gameID)
		}
		return nil, internal(err, "insert loan")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, internal(err, "insert loan")
	}
	return &Loan{ID: id, GameID: gameID, BorrowerID: borrowerID, BorrowedAt: now, DueAt: due}, nil
}

// RequestBorrow files a pending request by actor to borrow gameID for
// durationDays. Requests are accepted while the game is lent to someone else;
// exclusivity is enforced when a librarian approves.
func (d *Database) RequestBorrow(ctx context.Context, actor Actor, gameID int64, durationDays int) (*BorrowRequest, error) {
	if !ValidLoanDuration(durationDays) {
		return nil, Newf(CodeValidation, "duration must be one of %v days", LoanDurations).
			WithDetails(map[string]string{"duration_days": "must be 7, 14, 21 or 28"})
	}

	var created *BorrowRequest
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getGame(ctx, tx, gameID); err != nil {
			return err
		}
		pending, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM borrow_requests
            WHERE game_id = ? AND requester_id = ? AND status = 'pending')`, gameID, actor.ID)
		if err != nil {
			return internal(err, "check pending requests")
		}
		if pending {
			return Newf(CodeDuplicateRequest, "you already have a pending request for game %d", gameID)
		}
		borrowing, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM loans
            WHERE game_id = ? AND borrower_id = ? AND is_returned = 0)`, gameID, actor.ID)
		if err != nil {
			return internal(err, "check open loans")
		}
		if borrowing {
			return Newf(CodeDuplicateRequest, "you are already borrowing game %d", gameID)
		}

		now := d.now()
		res, err := tx.ExecContext(ctx, `INSERT INTO borrow_requests(game_id, requester_id, status, duration_days, requested_at)
            VALUES(?,?,'pending',?,?)`, gameID, actor.ID, durationDays, now)
		if err != nil {
			if isUniqueViolation(err) {
				return Newf(CodeDuplicateRequest, "you already have a pending request for game %d", gameID)
			}
			return internal(err, "insert borrow request")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return internal(err, "insert borrow request")
		}
		created, err = getBorrowRequest(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelBorrowRequest withdraws the actor's own pending request.
func (d *Database) CancelBorrowRequest(ctx context.Context, actor Actor, requestID int64) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getBorrowRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.RequesterID != actor.ID {
			return New(CodePermission, "only the requester can cancel a borrow request")
		}
		if !r.IsPending() {
			return Newf(CodeAlreadyProcessed, "borrow request %d is already %s", requestID, r.Status)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM borrow_requests WHERE id = ?`, requestID); err != nil {
			return internal(err, "delete borrow request")
		}
		return nil
	})
}

// ApproveBorrowRequest lends the game to the requester and marks the request
// approved in one transaction.
func (d *Database) ApproveBorrowRequest(ctx context.Context, actor Actor, requestID int64) (*Loan, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can approve borrow requests")
	}

	var loan *Loan
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getBorrowRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return Newf(CodeAlreadyProcessed, "borrow request %d is already %s", requestID, r.Status)
		}
		open, err := hasOpenLoan(ctx, tx, r.GameID)
		if err != nil {
			return err
		}
		if open {
			return Newf(CodeConflict, "game %d already has an open loan", r.GameID)
		}

		now := d.now()
		if loan, err = insertLoan(ctx, tx, r.GameID, r.RequesterID, now, r.DurationDays); err != nil {
			return err
		}
		return processBorrowRequest(ctx, tx, requestID, StatusApproved, actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// RejectBorrowRequest closes a pending request without lending.
func (d *Database) RejectBorrowRequest(ctx context.Context, actor Actor, requestID int64) (*BorrowRequest, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can reject borrow requests")
	}

	var rejected *BorrowRequest
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getBorrowRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return Newf(CodeAlreadyProcessed, "borrow request %d is already %s", requestID, r.Status)
		}
		if err := processBorrowRequest(ctx, tx, requestID, StatusRejected, actor.ID, d.now()); err != nil {
			return err
		}
		rejected, err = getBorrowRequest(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func processBorrowRequest(ctx context.Context, tx *sql.Tx, id int64, status RequestStatus, by int64, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE borrow_requests SET status = ?, processed_at = ?, processed_by = ? WHERE id = ?`,
		status, at, by, id); err != nil {
		return internal(err, "update borrow request")
	}
	return nil
}

// CheckoutGame lends a game to the librarian directly, without a request.
func (d *Database) CheckoutGame(ctx context.Context, actor Actor, gameID int64, durationDays int) (*Loan, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can check out games directly")
	}
	if !ValidLoanDuration(durationDays) {
		return nil, Newf(CodeValidation, "duration must be one of %v days", LoanDurations)
	}

	var loan *Loan
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getGame(ctx, tx, gameID); err != nil {
			return err
		}
		open, err := hasOpenLoan(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if open {
			return Newf(CodeUnavailable, "game %d is currently on loan", gameID)
		}
		loan, err = insertLoan(ctx, tx, gameID, actor.ID, d.now(), durationDays)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ReturnLoan closes an open loan. Only the borrower or a librarian may return it.
func (d *Database) ReturnLoan(ctx context.Context, actor Actor, loanID int64) (*Loan, error) {
	var returned *Loan
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		l, err := getLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.BorrowerID != actor.ID && !actor.IsLibrarian() {
			return New(CodePermission, "only the borrower or a librarian can return this loan")
		}
		if l.IsReturned {
			return Newf(CodeAlreadyReturned, "loan %d was already returned", loanID)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET is_returned = 1, returned_at = ? WHERE id = ?`,
			d.now(), loanID); err != nil {
			return internal(err, "return loan")
		}
		returned, err = getLoan(ctx, tx, loanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return returned, nil
}

func (d *Database) GetBorrowRequest(ctx context.Context, id int64) (*BorrowRequest, error) {
	return getBorrowRequest(ctx, d.db, id)
}

// ListBorrowRequests returns requests in status, oldest first. An empty
// status lists all of them.
func (d *Database) ListBorrowRequests(ctx context.Context, status RequestStatus) ([]*BorrowRequest, error) {
	if status == "" {
		return d.queryBorrowRequests(ctx, `SELECT `+borrowRequestColumns+` FROM borrow_requests ORDER BY requested_at, id`)
	}
	if !status.IsValid() {
		return nil, Newf(CodeValidation, "unknown request status %q", status)
	}
	return d.queryBorrowRequests(ctx, `SELECT `+borrowRequestColumns+` FROM borrow_requests WHERE status = ? ORDER BY requested_at, id`, status)
}

func (d *Database) ListUserBorrowRequests(ctx context.Context, userID int64) ([]*BorrowRequest, error) {
	return d.queryBorrowRequests(ctx, `SELECT `+borrowRequestColumns+` FROM borrow_requests WHERE requester_id = ? ORDER BY requested_at, id`, userID)
}

func (d *Database) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return getLoan(ctx, d.db, id)
}

// OpenLoanForGame returns the game's open loan, or nil when it is available.
func (d *Database) OpenLoanForGame(ctx context.Context, gameID int64) (*Loan, error) {
	l, err := scanLoan(d.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE game_id = ? AND is_returned = 0`, gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(err, "load open loan")
	}
	return l, nil
}

func (d *Database) ListOpenLoans(ctx context.Context) ([]*Loan, error) {
	return d.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE is_returned = 0 ORDER BY due_at, id`)
}

func (d *Database) ListUserLoans(ctx context.Context, userID int64) ([]*Loan, error) {
	return d.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_id = ? ORDER BY borrowed_at DESC, id DESC`, userID)
}

// ListOverdueLoans returns open loans whose due date has passed.
func (d *Database) ListOverdueLoans(ctx context.Context) ([]*Loan, error) {
	open, err := d.ListOpenLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := d.now()
	var overdue []*Loan
	for _, l := range open {
		if l.IsOverdue(now) {
			overdue = append(overdue, l)
		}
	}
	return overdue, nil
}
