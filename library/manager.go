package library

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"game-library/logger"

	"gopkg.in/yaml.v3"
)

// LibraryManager is a thin façade over the Database that resolves actors and
// logs every state transition, keeping CLI code simple.
type LibraryManager struct {
	db  *Database
	log *logger.Logger
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath. A nil
// log discards output.
func NewLibraryManager(dbPath string, opts Options, log *logger.Logger) (*LibraryManager, error) {
	if log == nil {
		log = logger.Discard()
	}
	db, err := NewDatabase(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{db: db, log: log}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// scope tags ctx with the actor so every log line of the operation carries it.
func (lm *LibraryManager) scope(ctx context.Context, actor Actor, fields map[string]any) context.Context {
	ctx = lm.log.WithUserID(ctx, actor.ID)
	ctx = lm.log.WithActorRole(ctx, actor.Role.String())
	if len(fields) > 0 {
		ctx = lm.log.WithFields(ctx, fields)
	}
	return ctx
}

// observe logs the outcome of action: info on success, warn when a library
// rule refused it, error when storage failed.
func (lm *LibraryManager) observe(ctx context.Context, action string, err error) {
	switch {
	case err == nil:
		lm.log.Info(ctx, action)
	case IsCode(err, CodeInternal):
		lm.log.Error(ctx, action+" failed", err)
	default:
		lm.log.WarnErr(ctx, action+" rejected", err)
	}
}

// ------------------ Identity ------------------

// RegisterUser creates an account; see Database.RegisterUser for the
// librarian bootstrap rule.
func (lm *LibraryManager) RegisterUser(ctx context.Context, in Registration) (*User, error) {
	ctx = lm.log.WithFields(ctx, map[string]any{"username": in.Username, "role": in.Role})
	u, err := lm.db.RegisterUser(ctx, in)
	lm.observe(ctx, "user registered", err)
	return u, err
}

// Login authenticates a user and returns the actor to run operations as.
func (lm *LibraryManager) Login(ctx context.Context, username, password string) (*User, error) {
	ctx = lm.log.WithField(ctx, "username", username)
	u, err := lm.db.Authenticate(ctx, username, password)
	lm.observe(ctx, "login", err)
	return u, err
}

// ResolveActor looks up the current role of userID.
func (lm *LibraryManager) ResolveActor(ctx context.Context, userID int64) (Actor, error) {
	role, err := lm.db.Role(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: userID, Role: role}, nil
}

func (lm *LibraryManager) SetUserRole(ctx context.Context, actor Actor, userID int64, role Role) (*User, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"target_user_id": userID, "new_role": role})
	u, err := lm.db.SetUserRole(ctx, actor, userID, role)
	lm.observe(ctx, "role changed", err)
	return u, err
}

func (lm *LibraryManager) ResetPassword(ctx context.Context, actor Actor, userID int64, password string) error {
	ctx = lm.scope(ctx, actor, map[string]any{"target_user_id": userID})
	err := lm.db.ResetPassword(ctx, actor, userID, password)
	lm.observe(ctx, "password reset", err)
	return err
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUser(ctx, id)
}

func (lm *LibraryManager) ListUsers(ctx context.Context) ([]*User, error) {
	return lm.db.ListUsers(ctx)
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddGame(ctx context.Context, actor Actor, in GameInput) (*Game, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"title": in.Title})
	g, err := lm.db.AddGame(ctx, actor, in)
	if err == nil {
		ctx = lm.log.WithFields(ctx, map[string]any{"game_id": g.ID, "upc": g.UPC})
	}
	lm.observe(ctx, "game added", err)
	return g, err
}

func (lm *LibraryManager) UpdateGame(ctx context.Context, actor Actor, id int64, in GameInput) (*Game, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": id})
	g, err := lm.db.UpdateGame(ctx, actor, id, in)
	lm.observe(ctx, "game updated", err)
	return g, err
}

func (lm *LibraryManager) DeleteGame(ctx context.Context, actor Actor, id int64) error {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": id})
	err := lm.db.DeleteGame(ctx, actor, id)
	lm.observe(ctx, "game deleted", err)
	return err
}

func (lm *LibraryManager) GetGame(ctx context.Context, id int64) (*Game, error) {
	return lm.db.GetGame(ctx, id)
}

func (lm *LibraryManager) GetGameByUPC(ctx context.Context, upc string) (*Game, error) {
	return lm.db.GetGameByUPC(ctx, upc)
}

func (lm *LibraryManager) ListGames(ctx context.Context) ([]*Game, error) {
	return lm.db.ListGames(ctx)
}

func (lm *LibraryManager) SearchGames(ctx context.Context, q string) ([]*Game, error) {
	return lm.db.SearchGames(ctx, q)
}

// ------------------ Collections ------------------

func (lm *LibraryManager) CreateCollection(ctx context.Context, actor Actor, in CollectionInput) (*Collection, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"name": in.Name, "private": in.IsPrivate})
	c, err := lm.db.CreateCollection(ctx, actor, in)
	if err == nil {
		ctx = lm.log.WithField(ctx, "collection_id", c.ID)
	}
	lm.observe(ctx, "collection created", err)
	return c, err
}

func (lm *LibraryManager) UpdateCollection(ctx context.Context, actor Actor, id int64, in CollectionUpdate) (*Collection, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": id})
	c, err := lm.db.UpdateCollection(ctx, actor, id, in)
	lm.observe(ctx, "collection updated", err)
	return c, err
}

func (lm *LibraryManager) AddGameToCollection(ctx context.Context, actor Actor, collectionID, gameID int64) (*Collection, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": collectionID, "game_id": gameID})
	c, err := lm.db.AddGameToCollection(ctx, actor, collectionID, gameID)
	lm.observe(ctx, "game added to collection", err)
	return c, err
}

func (lm *LibraryManager) RemoveGameFromCollection(ctx context.Context, actor Actor, collectionID, gameID int64) (*Collection, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": collectionID, "game_id": gameID})
	c, err := lm.db.RemoveGameFromCollection(ctx, actor, collectionID, gameID)
	lm.observe(ctx, "game removed from collection", err)
	return c, err
}

func (lm *LibraryManager) SetCollectionPrivate(ctx context.Context, actor Actor, collectionID int64, private bool) (*Collection, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": collectionID, "private": private})
	c, err := lm.db.SetCollectionPrivate(ctx, actor, collectionID, private)
	lm.observe(ctx, "collection privacy changed", err)
	return c, err
}

func (lm *LibraryManager) DeleteCollection(ctx context.Context, actor Actor, collectionID int64) error {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": collectionID})
	err := lm.db.DeleteCollection(ctx, actor, collectionID)
	lm.observe(ctx, "collection deleted", err)
	return err
}

func (lm *LibraryManager) GetCollection(ctx context.Context, actor Actor, id int64) (*Collection, error) {
	return lm.db.GetCollection(ctx, actor, id)
}

func (lm *LibraryManager) ListCollections(ctx context.Context) ([]*Collection, error) {
	return lm.db.ListCollections(ctx)
}

func (lm *LibraryManager) CollectionsForGame(ctx context.Context, gameID int64) ([]*Collection, error) {
	return lm.db.CollectionsForGame(ctx, gameID)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) RequestBorrow(ctx context.Context, actor Actor, gameID int64, durationDays int) (*BorrowRequest, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": gameID, "duration_days": durationDays})
	r, err := lm.db.RequestBorrow(ctx, actor, gameID, durationDays)
	if err == nil {
		ctx = lm.log.WithField(ctx, "borrow_request_id", r.ID)
	}
	lm.observe(ctx, "borrow requested", err)
	return r, err
}

func (lm *LibraryManager) CancelBorrowRequest(ctx context.Context, actor Actor, requestID int64) error {
	ctx = lm.scope(ctx, actor, map[string]any{"borrow_request_id": requestID})
	err := lm.db.CancelBorrowRequest(ctx, actor, requestID)
	lm.observe(ctx, "borrow request cancelled", err)
	return err
}

func (lm *LibraryManager) ApproveBorrowRequest(ctx context.Context, actor Actor, requestID int64) (*Loan, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"borrow_request_id": requestID})
	l, err := lm.db.ApproveBorrowRequest(ctx, actor, requestID)
	if err == nil {
		ctx = lm.log.WithFields(ctx, map[string]any{"loan_id": l.ID, "game_id": l.GameID, "due_at": l.DueAt})
	}
	lm.observe(ctx, "borrow request approved", err)
	return l, err
}

func (lm *LibraryManager) RejectBorrowRequest(ctx context.Context, actor Actor, requestID int64) (*BorrowRequest, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"borrow_request_id": requestID})
	r, err := lm.db.RejectBorrowRequest(ctx, actor, requestID)
	lm.observe(ctx, "borrow request rejected", err)
	return r, err
}

func (lm *LibraryManager) CheckoutGame(ctx context.Context, actor Actor, gameID int64, durationDays int) (*Loan, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": gameID, "duration_days": durationDays})
	l, err := lm.db.CheckoutGame(ctx, actor, gameID, durationDays)
	lm.observe(ctx, "game checked out", err)
	return l, err
}

func (lm *LibraryManager) ReturnLoan(ctx context.Context, actor Actor, loanID int64) (*Loan, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"loan_id": loanID})
	l, err := lm.db.ReturnLoan(ctx, actor, loanID)
	lm.observe(ctx, "loan returned", err)
	return l, err
}

func (lm *LibraryManager) ListBorrowRequests(ctx context.Context, status RequestStatus) ([]*BorrowRequest, error) {
	return lm.db.ListBorrowRequests(ctx, status)
}

func (lm *LibraryManager) ListUserBorrowRequests(ctx context.Context, userID int64) ([]*BorrowRequest, error) {
	return lm.db.ListUserBorrowRequests(ctx, userID)
}

func (lm *LibraryManager) OpenLoanForGame(ctx context.Context, gameID int64) (*Loan, error) {
	return lm.db.OpenLoanForGame(ctx, gameID)
}

func (lm *LibraryManager) ListOpenLoans(ctx context.Context) ([]*Loan, error) {
	return lm.db.ListOpenLoans(ctx)
}

func (lm *LibraryManager) ListUserLoans(ctx context.Context, userID int64) ([]*Loan, error) {
	return lm.db.ListUserLoans(ctx, userID)
}

func (lm *LibraryManager) ListOverdueLoans(ctx context.Context) ([]*Loan, error) {
	return lm.db.ListOverdueLoans(ctx)
}

// ------------------ Access requests ------------------

func (lm *LibraryManager) RequestAccess(ctx context.Context, actor Actor, collectionID int64) (*AccessRequestResult, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"collection_id": collectionID})
	res, err := lm.db.RequestAccess(ctx, actor, collectionID)
	if err == nil {
		ctx = lm.log.WithField(ctx, "outcome", res.Outcome)
	}
	lm.observe(ctx, "collection access requested", err)
	return res, err
}

func (lm *LibraryManager) ApproveAccessRequest(ctx context.Context, actor Actor, requestID int64) (*AccessApproval, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"access_request_id": requestID})
	res, err := lm.db.ApproveAccessRequest(ctx, actor, requestID)
	if err == nil {
		ctx = lm.log.WithFields(ctx, map[string]any{"loans": len(res.Loans), "skipped": res.Skipped})
	}
	lm.observe(ctx, "collection access approved", err)
	return res, err
}

func (lm *LibraryManager) RejectAccessRequest(ctx context.Context, actor Actor, requestID int64) (*CollectionAccessRequest, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"access_request_id": requestID})
	r, err := lm.db.RejectAccessRequest(ctx, actor, requestID)
	lm.observe(ctx, "collection access rejected", err)
	return r, err
}

func (lm *LibraryManager) ListAccessRequests(ctx context.Context, status RequestStatus) ([]*CollectionAccessRequest, error) {
	return lm.db.ListAccessRequests(ctx, status)
}

// ------------------ Ratings and comments ------------------

func (lm *LibraryManager) RateGame(ctx context.Context, actor Actor, gameID int64, score int) (*Rating, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": gameID, "score": score})
	r, err := lm.db.RateGame(ctx, actor, gameID, score)
	lm.observe(ctx, "game rated", err)
	return r, err
}

func (lm *LibraryManager) GameRating(ctx context.Context, gameID int64) (*RatingSummary, error) {
	return lm.db.GameRating(ctx, gameID)
}

func (lm *LibraryManager) AddComment(ctx context.Context, actor Actor, gameID int64, body string) (*Comment, error) {
	ctx = lm.scope(ctx, actor, map[string]any{"game_id": gameID})
	c, err := lm.db.AddComment(ctx, actor, gameID, body)
	lm.observe(ctx, "comment added", err)
	return c, err
}

func (lm *LibraryManager) ListComments(ctx context.Context, gameID int64) ([]*Comment, error) {
	return lm.db.ListComments(ctx, gameID)
}

// ------------------ Bulk import ------------------

type catalogFile struct {
	Games []catalogEntry `yaml:"games"`
}

type catalogEntry struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	ReleaseDate string `yaml:"release_date"`
	Genre       string `yaml:"genre"`
	Platform    string `yaml:"platform"`
	Location    string `yaml:"location"`
}

// ImportFailure records one catalog entry that could not be added.
type ImportFailure struct {
	Title string
	Err   error
}

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Added  []*Game
	Failed []ImportFailure
}

// ImportGamesFromFile reads a YAML catalog at path (relative paths resolve
// from cwd) and adds every entry.
func (lm *LibraryManager) ImportGamesFromFile(ctx context.Context, actor Actor, path string) (*ImportReport, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lm.ImportGames(ctx, actor, f)
}

// ImportGames adds each game of a YAML catalog. Entries fail independently;
// a malformed document fails the whole import.
func (lm *LibraryManager) ImportGames(ctx context.Context, actor Actor, r io.Reader) (*ImportReport, error) {
	if !actor.IsLibrarian() {
		return nil, New(CodePermission, "only librarians can import games")
	}
	var catalog catalogFile
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil && err != io.EOF {
		return nil, Wrap(CodeValidation, err, "malformed catalog file")
	}

	report := &ImportReport{}
	for _, entry := range catalog.Games {
		in, err := entry.input()
		if err == nil {
			var g *Game
			if g, err = lm.AddGame(ctx, actor, in); err == nil {
				report.Added = append(report.Added, g)
				continue
			}
		}
		report.Failed = append(report.Failed, ImportFailure{Title: entry.Title, Err: err})
	}
	return report, nil
}

func (e catalogEntry) input() (GameInput, error) {
	in := GameInput{
		Title:       e.Title,
		Description: e.Description,
		Genre:       e.Genre,
		Platform:    e.Platform,
		Location:    e.Location,
	}
	if s := strings.TrimSpace(e.ReleaseDate); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return in, Newf(CodeValidation, "release_date %q is not YYYY-MM-DD", s)
		}
		in.ReleaseDate = &t
	}
	return in, nil
}

// ------------------ Utilities ------------------

// PrettyGame formats a game for lists.
func PrettyGame(g *Game) string {
	status := "available"
	if !g.Available {
		status = "on loan"
	}
	return fmt.Sprintf("%-5d %-14s %-36s %-12s %-10s", g.ID, g.UPC, TruncateString(g.Title, 36), TruncateString(g.Platform, 12), status)
}

// TruncateString shortens s to maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
