package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// gameColumns selects a game row plus its availability (no open loan).
const gameColumns = `g.id, g.upc, g.title, g.description, g.release_date, g.genre, g.platform, g.location,
    g.created_at, g.updated_at,
    NOT EXISTS(SELECT 1 FROM loans l WHERE l.game_id = g.id AND l.is_returned = 0)`

func scanGame(row rowScanner) (*Game, error) {
	var (
		g       Game
		release sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.UPC, &g.Title, &g.Description, &release, &g.Genre, &g.Platform, &g.Location,
		&g.CreatedAt, &g.UpdatedAt, &g.Available); err != nil {
		return nil, err
	}
	g.ReleaseDate = nullTime(release)
	return &g, nil
}

func scanGames(rows *sql.Rows) ([]*Game, error) {
	defer rows.Close()
	var games []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func getGame(ctx context.Context, q querier, id int64) (*Game, error) {
	g, err := scanGame(q.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games g WHERE g.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "game %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load game")
	}
	return g, nil
}

// AddGame catalogs a new game under a freshly generated UPC.
func (d *Database) AddGame(ctx context.Context, actor Actor, in GameInput) (*Game, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can add games")
	}
	in = normalizeGameInput(in)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var game *Game
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		code, err := d.upc.Generate(func(code string) (bool, error) {
			return exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM games WHERE upc = ?)`, code)
		})
		if err != nil {
			return internal(err, "generate upc")
		}

		now := d.now()
		res, err := tx.ExecContext(ctx, `INSERT INTO games(upc,title,description,release_date,genre,platform,location,created_at,updated_at)
            VALUES(?,?,?,?,?,?,?,?,?)`,
			code, in.Title, in.Description, timeArg(in.ReleaseDate), in.Genre, in.Platform, in.Location, now, now)
		if err != nil {
			return internal(err, "insert game")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return internal(err, "insert game")
		}
		game, err = getGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// UpdateGame replaces the editable fields of a game. The UPC is kept.
func (d *Database) UpdateGame(ctx context.Context, actor Actor, id int64, in GameInput) (*Game, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can edit games")
	}
	in = normalizeGameInput(in)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var game *Game
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE games SET title=?, description=?, release_date=?, genre=?, platform=?, location=?, updated_at=?
            WHERE id=?`,
			in.Title, in.Description, timeArg(in.ReleaseDate), in.Genre, in.Platform, in.Location, d.now(), id)
		if err != nil {
			return internal(err, "update game")
		}
		if n, err := res.RowsAffected(); err != nil {
			return internal(err, "update game")
		} else if n == 0 {
			return Newf(CodeNotFound, "game %d not found", id)
		}
		game, err = getGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

func (d *Database) GetGame(ctx context.Context, id int64) (*Game, error) {
	return getGame(ctx, d.db, id)
}

func (d *Database) GetGameByUPC(ctx context.Context, upc string) (*Game, error) {
	g, err := scanGame(d.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games g WHERE g.upc = ?`, strings.TrimSpace(upc)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "no game with upc %s", upc)
	}
	if err != nil {
		return nil, internal(err, "load game")
	}
	return g, nil
}

// ListGames returns the whole catalog ordered by id.
func (d *Database) ListGames(ctx context.Context) ([]*Game, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games g ORDER BY g.id`)
	if err != nil {
		return nil, internal(err, "list games")
	}
	games, err := scanGames(rows)
	if err != nil {
		return nil, internal(err, "list games")
	}
	return games, nil
}

// SearchGames matches q case-insensitively against title, description,
// genre and platform.
func (d *Database) SearchGames(ctx context.Context, q string) ([]*Game, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Game{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	rows, err := d.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games g
        WHERE lower(g.title) LIKE ?1 ESCAPE '\' OR lower(g.description) LIKE ?1 ESCAPE '\'
           OR lower(g.genre) LIKE ?1 ESCAPE '\' OR lower(g.platform) LIKE ?1 ESCAPE '\'
        ORDER BY g.title, g.id`, pattern)
	if err != nil {
		return nil, internal(err, "search games")
	}
	games, err := scanGames(rows)
	if err != nil {
		return nil, internal(err, "search games")
	}
	return games, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// DeleteGame removes a game that is not on loan, together with its borrow
// requests. Closed loans, memberships, ratings and comments cascade.
func (d *Database) DeleteGame(ctx context.Context, actor Actor, id int64) error {
	if !actor.IsLibrarian() {
		return New(CodePermission, "only librarians can delete games")
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getGame(ctx, tx, id); err != nil {
			return err
		}
		onLoan, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM loans WHERE game_id = ? AND is_returned = 0)`, id)
		if err != nil {
			return internal(err, "check open loans")
		}
		if onLoan {
			return Newf(CodeConflict, "game %d is on loan and cannot be deleted", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM borrow_requests WHERE game_id = ?`, id); err != nil {
			return internal(err, "delete borrow requests")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id); err != nil {
			return internal(err, "delete game")
		}
		return nil
	})
}
