package library

import (
	"context"
	"database/sql"
	"errors"
)

// AccessOutcome describes what RequestAccess did.
type AccessOutcome string

const (
	AccessCreated         AccessOutcome = "created"
	AccessReopened        AccessOutcome = "reopened"
	AccessAlreadyPending  AccessOutcome = "already_pending"
	AccessAlreadyApproved AccessOutcome = "already_approved"
)

// AccessRequestResult is returned by RequestAccess.
type AccessRequestResult struct {
	Request *CollectionAccessRequest `json:"request"`
	Outcome AccessOutcome            `json:"outcome"`
}

// AccessApproval reports the loans opened by an approved access request and
// the member games that were skipped because they were already on loan.
type AccessApproval struct {
	Request *CollectionAccessRequest `json:"request"`
	Loans   []*Loan                  `json:"loans"`
	Skipped []int64                  `json:"skipped"`
}

const accessRequestColumns = `id, collection_id, requester_id, status, processed_by, created_at, updated_at`

func scanAccessRequest(row rowScanner) (*CollectionAccessRequest, error) {
	var (
		r           CollectionAccessRequest
		processedBy sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.CollectionID, &r.RequesterID, &r.Status, &processedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ProcessedBy = nullInt64(processedBy)
	return &r, nil
}

func getAccessRequest(ctx context.Context, q querier, id int64) (*CollectionAccessRequest, error) {
	r, err := scanAccessRequest(q.QueryRowContext(ctx, `SELECT `+accessRequestColumns+` FROM collection_access_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "access request %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load access request")
	}
	return r, nil
}

func hasApprovedAccess(ctx context.Context, q querier, collectionID, userID int64) (bool, error) {
	ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM collection_access_requests
        WHERE collection_id = ? AND requester_id = ? AND status = 'approved')`, collectionID, userID)
	if err != nil {
		return false, internal(err, "check collection access")
	}
	return ok, nil
}

// RequestAccess asks for access to a private collection. A rejected request
// is reopened rather than duplicated; pending and approved requests are left
// alone and reported through the outcome.
func (d *Database) RequestAccess(ctx context.Context, actor Actor, collectionID int64) (*AccessRequestResult, error) {
	var result *AccessRequestResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !c.IsPrivate {
			return Newf(CodeValidation, "collection %d is public", collectionID)
		}
		if canModifyCollection(actor, c) {
			return Newf(CodeValidation, "you already have access to collection %d", collectionID)
		}

		existing, err := scanAccessRequest(tx.QueryRowContext(ctx, `SELECT `+accessRequestColumns+`
            FROM collection_access_requests WHERE collection_id = ? AND requester_id = ?`, collectionID, actor.ID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			now := d.now()
			res, err := tx.ExecContext(ctx, `INSERT INTO collection_access_requests(collection_id, requester_id, status, created_at, updated_at)
                VALUES(?,?,'pending',?,?)`, collectionID, actor.ID, now, now)
			if err != nil {
				return internal(err, "insert access request")
			}
			id, err := res.LastInsertId()
			if err != nil {
				return internal(err, "insert access request")
			}
			r, err := getAccessRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			result = &AccessRequestResult{Request: r, Outcome: AccessCreated}
			return nil
		case err != nil:
			return internal(err, "load access request")
		}

		switch existing.Status {
		case StatusPending:
			result = &AccessRequestResult{Request: existing, Outcome: AccessAlreadyPending}
		case StatusApproved:
			result = &AccessRequestResult{Request: existing, Outcome: AccessAlreadyApproved}
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE collection_access_requests
                SET status = 'pending', processed_by = NULL, updated_at = ? WHERE id = ?`, d.now(), existing.ID); err != nil {
				return internal(err, "reopen access request")
			}
			r, err := getAccessRequest(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
			result = &AccessRequestResult{Request: r, Outcome: AccessReopened}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveAccessRequest grants access and lends every member game to the
// requester for the configured access loan length. Games already on loan are
// skipped. The whole approval commits or fails as one unit.
func (d *Database) ApproveAccessRequest(ctx context.Context, actor Actor, requestID int64) (*AccessApproval, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can approve access requests")
	}

	approval := &AccessApproval{Loans: []*Loan{}, Skipped: []int64{}}
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getAccessRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return Newf(CodeAlreadyProcessed, "access request %d is already %s", requestID, r.Status)
		}

		now := d.now()
		if err := processAccessRequest(ctx, tx, requestID, StatusApproved, actor.ID, now); err != nil {
			return err
		}

		gameIDs, err := collectionGameIDs(ctx, tx, r.CollectionID)
		if err != nil {
			return err
		}
		for _, gameID := range gameIDs {
			open, err := hasOpenLoan(ctx, tx, gameID)
			if err != nil {
				return err
			}
			if open {
				approval.Skipped = append(approval.Skipped, gameID)
				continue
			}
			loan, err := insertLoan(ctx, tx, gameID, r.RequesterID, now, d.opts.AccessLoanDays)
			if err != nil {
				return err
			}
			approval.Loans = append(approval.Loans, loan)
		}

		approval.Request, err = getAccessRequest(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// RejectAccessRequest closes a pending access request.
func (d *Database) RejectAccessRequest(ctx context.Context, actor Actor, requestID int64) (*CollectionAccessRequest, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can reject access requests")
	}

	var rejected *CollectionAccessRequest
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getAccessRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return Newf(CodeAlreadyProcessed, "access request %d is already %s", requestID, r.Status)
		}
		if err := processAccessRequest(ctx, tx, requestID, StatusRejected, actor.ID, d.now()); err != nil {
			return err
		}
		rejected, err = getAccessRequest(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func processAccessRequest(ctx context.Context, tx *sql.Tx, id int64, status RequestStatus, by int64, at any) error {
	if _, err := tx.ExecContext(ctx, `UPDATE collection_access_requests SET status = ?, processed_by = ?, updated_at = ? WHERE id = ?`,
		status, by, at, id); err != nil {
		return internal(err, "update access request")
	}
	return nil
}

func (d *Database) GetAccessRequest(ctx context.Context, id int64) (*CollectionAccessRequest, error) {
	return getAccessRequest(ctx, d.db, id)
}

// ListAccessRequests returns access requests in status, oldest first. An
// empty status lists all of them.
func (d *Database) ListAccessRequests(ctx context.Context, status RequestStatus) ([]*CollectionAccessRequest, error) {
	query := `SELECT ` + accessRequestColumns + ` FROM collection_access_requests`
	var args []any
	if status != "" {
		if !status.IsValid() {
			return nil, Newf(CodeValidation, "unknown request status %q", status)
		}
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal(err, "list access requests")
	}
	defer rows.Close()
	var out []*CollectionAccessRequest
	for rows.Next() {
		r, err := scanAccessRequest(rows)
		if err != nil {
			return nil, internal(err, "scan access request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "list access requests")
	}
	return out, nil
}

// HasCollectionAccess reports whether actor may view the collection's members.
func (d *Database) HasCollectionAccess(ctx context.Context, actor Actor, collectionID int64) (bool, error) {
	c, err := getCollection(ctx, d.db, collectionID)
	if err != nil {
		return false, err
	}
	if !c.IsPrivate || canModifyCollection(actor, c) {
		return true, nil
	}
	return hasApprovedAccess(ctx, d.db, collectionID, actor.ID)
}
