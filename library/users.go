package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// RoleProvider resolves the role a user currently holds.
type RoleProvider interface {
	Role(ctx context.Context, userID int64) (Role, error)
}

var _ RoleProvider = (*Database)(nil)

const userColumns = `id, username, real_name, role, password_hash, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.RealName, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, id int64) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load user")
	}
	return u, nil
}

func countLibrarians(ctx context.Context, q querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'librarian'`).Scan(&n); err != nil {
		return 0, internal(err, "count librarians")
	}
	return n, nil
}

// RegisterUser creates an account. Anyone may register as a patron; a
// librarian account can only be self-registered while the library has none.
func (d *Database) RegisterUser(ctx context.Context, in Registration) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.RealName = strings.TrimSpace(in.RealName)
	if in.Role == "" {
		in.Role = RolePatron
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !in.Role.IsValid() {
		return nil, Newf(CodeValidation, "invalid role %q", in.Role).
			WithDetails(map[string]string{"role": "must be patron or librarian"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), d.opts.BcryptCost)
	if err != nil {
		return nil, internal(err, "hash password")
	}

	var created *User
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		if in.Role == RoleLibrarian {
			n, err := countLibrarians(ctx, tx)
			if err != nil {
				return err
			}
			if n > 0 {
				return New(CodePermission, "librarian accounts are granted by an existing librarian")
			}
		}
		res, err := tx.StmtContext(ctx, d.addUserStmt).ExecContext(ctx, in.Username, in.RealName, in.Role, string(hash), d.now())
		if err != nil {
			if isUniqueViolation(err) {
				return Newf(CodeConflict, "username %q is taken", in.Username)
			}
			return internal(err, "insert user")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return internal(err, "insert user")
		}
		created, err = getUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Authenticate checks username and password. Unknown users and wrong
// passwords fail the same way.
func (d *Database) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := d.GetUserByUsername(ctx, username)
	if err != nil {
		if IsCode(err, CodeNotFound) {
			return nil, New(CodePermission, "invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, New(CodePermission, "invalid credentials")
	}
	return u, nil
}

// Role implements RoleProvider.
func (d *Database) Role(ctx context.Context, userID int64) (Role, error) {
	var role Role
	err := d.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", Newf(CodeNotFound, "user %d not found", userID)
	}
	if err != nil {
		return "", internal(err, "load role")
	}
	return role, nil
}

// SetUserRole changes a user's role. The last librarian cannot be demoted.
func (d *Database) SetUserRole(ctx context.Context, actor Actor, userID int64, role Role) (*User, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can change roles")
	}
	if !role.IsValid() {
		return nil, Newf(CodeValidation, "invalid role %q", role)
	}

	var updated *User
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.Role == RoleLibrarian && role != RoleLibrarian {
			n, err := countLibrarians(ctx, tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return New(CodeValidation, "the last librarian cannot be demoted")
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, userID); err != nil {
			return internal(err, "update role")
		}
		updated, err = getUser(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetPassword replaces a password. Users reset their own; librarians may
// reset anyone's.
func (d *Database) ResetPassword(ctx context.Context, actor Actor, userID int64, password string) error {
	if actor.ID != userID && !actor.IsLibrarian() {
		return New(CodePermission, "you can only reset your own password")
	}
	if len(password) < 6 || len(password) > 72 {
		return New(CodeValidation, "password must be between 6 and 72 characters").
			WithDetails(map[string]string{"password": "must be between 6 and 72 characters"})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.opts.BcryptCost)
	if err != nil {
		return internal(err, "hash password")
	}
	res, err := d.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), userID)
	if err != nil {
		return internal(err, "update password")
	}
	if n, err := res.RowsAffected(); err != nil {
		return internal(err, "update password")
	} else if n == 0 {
		return Newf(CodeNotFound, "user %d not found", userID)
	}
	return nil
}

func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	return getUser(ctx, d.db, id)
}

func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "user %q not found", username)
	}
	if err != nil {
		return nil, internal(err, "load user")
	}
	return u, nil
}

func (d *Database) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, internal(err, "list users")
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, internal(err, "scan user")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "list users")
	}
	return out, nil
}

// CountLibrarians returns how many librarian accounts exist.
func (d *Database) CountLibrarians(ctx context.Context) (int, error) {
	return countLibrarians(ctx, d.db)
}
