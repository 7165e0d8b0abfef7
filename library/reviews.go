package library

import (
	"context"
	"database/sql"
	"strings"
	"unicode/utf8"
)

const maxCommentLength = 2000

// RateGame records actor's 1-5 score for a game. Rating again replaces the
// previous score.
func (d *Database) RateGame(ctx context.Context, actor Actor, gameID int64, score int) (*Rating, error) {
	if score < 1 || score > 5 {
		return nil, New(CodeValidation, "score must be between 1 and 5").
			WithDetails(map[string]string{"score": "must be between 1 and 5"})
	}

	var rating Rating
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getGame(ctx, tx, gameID); err != nil {
			return err
		}
		now := d.now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO ratings(game_id, user_id, score, created_at, updated_at) VALUES(?,?,?,?,?)
            ON CONFLICT(game_id, user_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
			gameID, actor.ID, score, now, now); err != nil {
			return internal(err, "save rating")
		}
		err := tx.QueryRowContext(ctx, `SELECT id, game_id, user_id, score, created_at, updated_at FROM ratings
            WHERE game_id = ? AND user_id = ?`, gameID, actor.ID).
			Scan(&rating.ID, &rating.GameID, &rating.UserID, &rating.Score, &rating.CreatedAt, &rating.UpdatedAt)
		if err != nil {
			return internal(err, "load rating")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rating, nil
}

// GameRating summarizes the scores of a game. Unrated games report zero.
func (d *Database) GameRating(ctx context.Context, gameID int64) (*RatingSummary, error) {
	if _, err := getGame(ctx, d.db, gameID); err != nil {
		return nil, err
	}
	var (
		avg   sql.NullFloat64
		count int
	)
	if err := d.db.QueryRowContext(ctx, `SELECT AVG(score), COUNT(*) FROM ratings WHERE game_id = ?`, gameID).
		Scan(&avg, &count); err != nil {
		return nil, internal(err, "summarize ratings")
	}
	return &RatingSummary{GameID: gameID, Average: avg.Float64, Count: count}, nil
}

func (d *Database) AddComment(ctx context.Context, actor Actor, gameID int64, body string) (*Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, New(CodeValidation, "comment cannot be empty")
	}
	if utf8.RuneCountInString(body) > maxCommentLength {
		return nil, Newf(CodeValidation, "comment must be at most %d characters", maxCommentLength)
	}
	if _, err := getGame(ctx, d.db, gameID); err != nil {
		return nil, err
	}

	now := d.now()
	res, err := d.addCommentStmt.ExecContext(ctx, gameID, actor.ID, body, now)
	if err != nil {
		return nil, internal(err, "insert comment")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, internal(err, "insert comment")
	}
	return &Comment{ID: id, GameID: gameID, UserID: actor.ID, Body: body, CreatedAt: now}, nil
}

// ListComments returns a game's comments, oldest first.
func (d *Database) ListComments(ctx context.Context, gameID int64) ([]*Comment, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, game_id, user_id, body, created_at FROM comments
        WHERE game_id = ? ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, internal(err, "list comments")
	}
	defer rows.Close()
	var out []*Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.GameID, &c.UserID, &c.Body, &c.CreatedAt); err != nil {
			return nil, internal(err, "scan comment")
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(err, "list comments")
	}
	return out, nil
}
