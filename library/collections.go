package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const collectionColumns = `c.id, c.name, c.description, c.creator_id, c.is_private, c.created_at, c.updated_at`

func scanCollection(row rowScanner) (*Collection, error) {
	var c Collection
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatorID, &c.IsPrivate, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCollections(rows *sql.Rows) ([]*Collection, error) {
	defer rows.Close()
	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// getCollection loads a collection with its member ids.
func getCollection(ctx context.Context, q querier, id int64) (*Collection, error) {
	c, err := scanCollection(q.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Newf(CodeNotFound, "collection %d not found", id)
	}
	if err != nil {
		return nil, internal(err, "load collection")
	}
	if c.GameIDs, err = collectionGameIDs(ctx, q, id); err != nil {
		return nil, err
	}
	return c, nil
}

func collectionGameIDs(ctx context.Context, q querier, collectionID int64) ([]int64, error) {
	return queryIDs(ctx, q, `SELECT game_id FROM collection_games WHERE collection_id = ? ORDER BY added_at, game_id`, collectionID)
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal(err, "query ids")
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, internal(err, "scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "query ids")
	}
	return ids, nil
}

func canModifyCollection(actor Actor, c *Collection) bool {
	return actor.IsLibrarian() || actor.ID == c.CreatorID
}

// checkExclusive enforces the private-collection membership rule for placing
// gameID into collectionID (0 for a collection not yet stored). A game that
// sits in a private collection may not join another one, and a game may not
// join a private collection while it belongs to any other collection.
func checkExclusive(ctx context.Context, q querier, collectionID, gameID int64, private bool) error {
	ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM games WHERE id = ?)`, gameID)
	if err != nil {
		return internal(err, "check game")
	}
	if !ok {
		return Newf(CodeNotFound, "game %d not found", gameID)
	}

	inPrivate, err := exists(ctx, q, `SELECT EXISTS(
        SELECT 1 FROM collection_games cg JOIN collections c ON c.id = cg.collection_id
        WHERE cg.game_id = ? AND c.is_private = 1 AND c.id <> ?)`, gameID, collectionID)
	if err != nil {
		return internal(err, "check private membership")
	}
	if inPrivate {
		return Newf(CodeValidation, "game %d belongs to a private collection", gameID).
			WithDetails(map[string]any{"game_id": gameID})
	}
	if !private {
		return nil
	}

	elsewhere, err := exists(ctx, q, `SELECT EXISTS(
        SELECT 1 FROM collection_games WHERE game_id = ? AND collection_id <> ?)`, gameID, collectionID)
	if err != nil {
		return internal(err, "check membership")
	}
	if elsewhere {
		return Newf(CodeValidation, "game %d belongs to another collection and cannot join a private one", gameID).
			WithDetails(map[string]any{"game_id": gameID})
	}
	return nil
}

func insertMembership(ctx context.Context, tx *sql.Tx, collectionID, gameID int64, at any) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO collection_games(collection_id, game_id, added_at) VALUES(?,?,?)`,
		collectionID, gameID, at); err != nil {
		return internal(err, "insert collection member")
	}
	return nil
}

func touchCollection(ctx context.Context, tx *sql.Tx, id int64, at any) error {
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET updated_at = ? WHERE id = ?`, at, id); err != nil {
		return internal(err, "touch collection")
	}
	return nil
}

// CreateCollection stores a new collection owned by actor. Patrons can only
// create public collections.
func (d *Database) CreateCollection(ctx context.Context, actor Actor, in CollectionInput) (*Collection, error) {
	in = normalizeCollectionInput(in)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !actor.IsLibrarian() {
		in.IsPrivate = false
	}

	var created *Collection
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, gameID := range in.GameIDs {
			if err := checkExclusive(ctx, tx, 0, gameID, in.IsPrivate); err != nil {
				return err
			}
		}

		now := d.now()
		res, err := tx.ExecContext(ctx, `INSERT INTO collections(name, description, creator_id, is_private, created_at, updated_at)
            VALUES(?,?,?,?,?,?)`, in.Name, in.Description, actor.ID, in.IsPrivate, now, now)
		if err != nil {
			return internal(err, "insert collection")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return internal(err, "insert collection")
		}
		for _, gameID := range in.GameIDs {
			if err := insertMembership(ctx, tx, id, gameID, now); err != nil {
				return err
			}
		}
		created, err = getCollection(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetCollection returns a collection the actor may see. Private collections
// are visible to their creator, librarians, and approved requesters.
func (d *Database) GetCollection(ctx context.Context, actor Actor, id int64) (*Collection, error) {
	c, err := getCollection(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if !c.IsPrivate || canModifyCollection(actor, c) {
		return c, nil
	}
	approved, err := hasApprovedAccess(ctx, d.db, id, actor.ID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, Newf(CodePermission, "collection %d is private", id)
	}
	return c, nil
}

// ListCollections returns collection metadata without member ids.
func (d *Database) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections c ORDER BY c.id`)
	if err != nil {
		return nil, internal(err, "list collections")
	}
	out, err := scanCollections(rows)
	if err != nil {
		return nil, internal(err, "list collections")
	}
	return out, nil
}

// CollectionsForGame lists the collections gameID belongs to.
func (d *Database) CollectionsForGame(ctx context.Context, gameID int64) ([]*Collection, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections c
        JOIN collection_games cg ON cg.collection_id = c.id
        WHERE cg.game_id = ? ORDER BY c.id`, gameID)
	if err != nil {
		return nil, internal(err, "list collections for game")
	}
	out, err := scanCollections(rows)
	if err != nil {
		return nil, internal(err, "list collections for game")
	}
	return out, nil
}

func (d *Database) UpdateCollection(ctx context.Context, actor Actor, id int64, in CollectionUpdate) (*Collection, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var updated *Collection
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canModifyCollection(actor, c) {
			return New(CodePermission, "only the creator or a librarian can edit this collection")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
			in.Name, in.Description, d.now(), id); err != nil {
			return internal(err, "update collection")
		}
		updated, err = getCollection(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddGameToCollection places gameID into the collection. Adding to a private
// collection also drops the game from every other collection in the same
// transaction.
func (d *Database) AddGameToCollection(ctx context.Context, actor Actor, collectionID, gameID int64) (*Collection, error) {
	var updated *Collection
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !canModifyCollection(actor, c) {
			return New(CodePermission, "only the creator or a librarian can modify this collection")
		}
		for _, member := range c.GameIDs {
			if member == gameID {
				updated = c
				return nil
			}
		}
		if err := checkExclusive(ctx, tx, collectionID, gameID, c.IsPrivate); err != nil {
			return err
		}

		now := d.now()
		if c.IsPrivate {
			if _, err := tx.ExecContext(ctx, `DELETE FROM collection_games WHERE game_id = ? AND collection_id <> ?`,
				gameID, collectionID); err != nil {
				return internal(err, "remove other memberships")
			}
		}
		if err := insertMembership(ctx, tx, collectionID, gameID, now); err != nil {
			return err
		}
		if err := touchCollection(ctx, tx, collectionID, now); err != nil {
			return err
		}
		updated, err = getCollection(ctx, tx, collectionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveGameFromCollection drops a member. A collection keeps at least one game.
func (d *Database) RemoveGameFromCollection(ctx context.Context, actor Actor, collectionID, gameID int64) (*Collection, error) {
	var updated *Collection
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !canModifyCollection(actor, c) {
			return New(CodePermission, "only the creator or a librarian can modify this collection")
		}
		member := false
		for _, id := range c.GameIDs {
			if id == gameID {
				member = true
				break
			}
		}
		if !member {
			return Newf(CodeNotFound, "game %d is not in collection %d", gameID, collectionID)
		}
		if len(c.GameIDs) == 1 {
			return New(CodeValidation, "a collection must keep at least one game")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM collection_games WHERE collection_id = ? AND game_id = ?`,
			collectionID, gameID); err != nil {
			return internal(err, "remove collection member")
		}
		if err := touchCollection(ctx, tx, collectionID, d.now()); err != nil {
			return err
		}
		updated, err = getCollection(ctx, tx, collectionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetCollectionPrivate flips the privacy flag. Going private fails, leaving
// the flag untouched, when any member also belongs to another collection.
func (d *Database) SetCollectionPrivate(ctx context.Context, actor Actor, collectionID int64, private bool) (*Collection, error) {
	var updated *Collection
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !canModifyCollection(actor, c) {
			return New(CodePermission, "only the creator or a librarian can modify this collection")
		}
		if private && !actor.IsLibrarian() {
			return New(CodePermission, "only librarians can make a collection private")
		}
		if c.IsPrivate == private {
			updated = c
			return nil
		}

		if private {
			var offending []int64
			for _, gameID := range c.GameIDs {
				if err := checkExclusive(ctx, tx, collectionID, gameID, true); err != nil {
					if !IsCode(err, CodeValidation) {
						return err
					}
					offending = append(offending, gameID)
				}
			}
			if len(offending) > 0 {
				return Newf(CodeValidation, "%d game(s) belong to other collections", len(offending)).
					WithDetails(map[string]any{"game_ids": offending})
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE collections SET is_private = ?, updated_at = ? WHERE id = ?`,
			private, d.now(), collectionID); err != nil {
			return internal(err, "update collection privacy")
		}
		updated, err = getCollection(ctx, tx, collectionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteCollection removes a collection, its memberships and access requests.
func (d *Database) DeleteCollection(ctx context.Context, actor Actor, collectionID int64) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !canModifyCollection(actor, c) {
			return New(CodePermission, "only the creator or a librarian can delete this collection")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, collectionID); err != nil {
			return internal(err, "delete collection")
		}
		return nil
	})
}
