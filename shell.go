package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"game-library/library"

	"github.com/google/uuid"
)

// shell is the interactive session of one logged-in user.
type shell struct {
	app   *app
	sc    *bufio.Scanner
	out   io.Writer
	user  *library.User
	actor library.Actor
}

type shellCommand struct {
	name      string
	help      string
	librarian bool
	run       func(s *shell, ctx context.Context) error
}

var shellCommands = []shellCommand{
	{"list games", "show the catalog", false, (*shell).listGames},
	{"search games", "search title, description, genre and platform", false, (*shell).searchGames},
	{"show game", "game details, collections, rating and comments", false, (*shell).showGame},
	{"add game", "catalog a new game", true, (*shell).addGame},
	{"edit game", "change a game's details", true, (*shell).editGame},
	{"delete game", "remove a game that is not on loan", true, (*shell).deleteGame},

	{"borrow", "request to borrow a game", false, (*shell).borrow},
	{"cancel request", "withdraw a pending borrow request", false, (*shell).cancelRequest},
	{"my requests", "your borrow requests", false, (*shell).myRequests},
	{"my loans", "your loans", false, (*shell).myLoans},
	{"return", "return a loan", false, (*shell).returnLoan},
	{"list requests", "pending borrow requests", true, (*shell).listRequests},
	{"approve request", "approve a borrow request", true, (*shell).approveRequest},
	{"reject request", "reject a borrow request", true, (*shell).rejectRequest},
	{"checkout", "lend a game to yourself", true, (*shell).checkout},
	{"list loans", "open loans", true, (*shell).listLoans},
	{"overdue", "loans past their due date", true, (*shell).overdue},

	{"list collections", "all collections", false, (*shell).listCollections},
	{"show collection", "games in a collection", false, (*shell).showCollection},
	{"create collection", "group games into a collection", false, (*shell).createCollection},
	{"edit collection", "rename or describe a collection", false, (*shell).editCollection},
	{"add to collection", "add a game to a collection", false, (*shell).addToCollection},
	{"remove from collection", "remove a game from a collection", false, (*shell).removeFromCollection},
	{"make private", "restrict a collection", true, (*shell).makePrivate},
	{"make public", "open a collection to everyone", false, (*shell).makePublic},
	{"delete collection", "delete a collection", false, (*shell).deleteCollection},

	{"request access", "ask to see a private collection", false, (*shell).requestAccess},
	{"list access requests", "pending collection access requests", true, (*shell).listAccessRequests},
	{"approve access", "grant access and lend the collection", true, (*shell).approveAccess},
	{"reject access", "refuse a collection access request", true, (*shell).rejectAccess},

	{"rate", "score a game from 1 to 5", false, (*shell).rate},
	{"comment", "comment on a game", false, (*shell).comment},

	{"reset password", "change a password", false, (*shell).resetPassword},
	{"list users", "all accounts", true, (*shell).listUsers},
	{"set role", "promote or demote a user", true, (*shell).setRole},
}

func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	s := &shell{app: a, sc: bufio.NewScanner(in), out: out}

	fmt.Fprintln(out, "Welcome to the Game Library!")
	if err := s.login(ctx); err != nil {
		return err
	}
	s.printHelp()

	for {
		fmt.Fprint(out, "\n> ")
		if !s.sc.Scan() {
			return s.sc.Err()
		}
		name := strings.ToLower(strings.Join(strings.Fields(s.sc.Text()), " "))
		switch name {
		case "":
			continue
		case "help":
			s.printHelp()
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		cmd, ok := findCommand(name)
		if !ok {
			fmt.Fprintln(out, "Unknown command. Type 'help' to see the available commands.")
			continue
		}
		// Roles can change mid-session.
		actor, err := a.mgr.ResolveActor(ctx, s.user.ID)
		if err != nil {
			s.printErr(err)
			continue
		}
		s.actor = actor
		if cmd.librarian && !actor.IsLibrarian() {
			fmt.Fprintln(out, "That command is for librarians.")
			continue
		}

		cmdCtx := a.log.WithRequestID(ctx, uuid.NewString())
		if err := cmd.run(s, cmdCtx); err != nil {
			s.printErr(err)
		}
	}
}

func findCommand(name string) (shellCommand, bool) {
	for _, c := range shellCommands {
		if c.name == name {
			return c, true
		}
	}
	return shellCommand{}, false
}

func (s *shell) login(ctx context.Context) error {
	for attempt := 0; attempt < 3; attempt++ {
		username, ok := s.prompt("Username: ")
		if !ok {
			return errors.New("no input")
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		u, err := s.app.mgr.Login(ctx, username, password)
		if err == nil {
			s.user, s.actor = u, u.Actor()
			fmt.Fprintf(s.out, "Logged in as %s (%s)\n", u.Username, u.Role)
			return nil
		}
		s.printErr(err)
	}
	return errors.New("too many failed login attempts")
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "Available commands:")
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, c := range shellCommands {
		if c.librarian && !s.actor.IsLibrarian() {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.help)
	}
	fmt.Fprintf(tw, "  %s\t%s\n", "help", "show this list")
	fmt.Fprintf(tw, "  %s\t%s\n", "exit", "leave the shell")
	tw.Flush()
}

func (s *shell) printErr(err error) {
	typed := library.As(err)
	if typed == nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Error: %s\n", typed.Error())
	if !library.MetadataFor(typed.Code()).DetailsAllowed || typed.Details() == nil {
		return
	}
	switch details := typed.Details().(type) {
	case map[string]string:
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.out, "  %s: %s\n", k, details[k])
		}
	case map[string]any:
		for k, v := range details {
			fmt.Fprintf(s.out, "  %s: %v\n", k, v)
		}
	}
}

// ------------------ Input helpers ------------------

func (s *shell) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

func (s *shell) promptID(label string) (int64, error) {
	raw, ok := s.prompt(label)
	if !ok {
		return 0, io.EOF
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

func (s *shell) promptIDs(label string) ([]int64, error) {
	raw, ok := s.prompt(label)
	if !ok {
		return nil, io.EOF
	}
	var ids []int64
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %q", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *shell) promptDuration() (int, error) {
	raw, ok := s.prompt(fmt.Sprintf("Days %v [%d]: ", library.LoanDurations, library.DefaultLoanDays))
	if !ok {
		return 0, io.EOF
	}
	if raw == "" {
		return library.DefaultLoanDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid number of days: %q", raw)
	}
	return days, nil
}

func (s *shell) promptGameInput(current *library.Game) (library.GameInput, error) {
	var in library.GameInput
	if current != nil {
		in = library.GameInput{
			Title: current.Title, Description: current.Description, ReleaseDate: current.ReleaseDate,
			Genre: current.Genre, Platform: current.Platform, Location: current.Location,
		}
	}
	fields := []struct {
		label string
		dst   *string
	}{
		{"Title", &in.Title},
		{"Description", &in.Description},
		{"Genre", &in.Genre},
		{"Platform", &in.Platform},
		{"Location", &in.Location},
	}
	for _, f := range fields {
		label := f.label + ": "
		if current != nil {
			label = fmt.Sprintf("%s [%s]: ", f.label, *f.dst)
		}
		v, ok := s.prompt(label)
		if !ok {
			return in, io.EOF
		}
		if v != "" || current == nil {
			*f.dst = v
		}
	}
	raw, ok := s.prompt("Release date (YYYY-MM-DD, optional): ")
	if !ok {
		return in, io.EOF
	}
	if raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return in, fmt.Errorf("invalid date: %q", raw)
		}
		in.ReleaseDate = &t
	}
	return in, nil
}

// ------------------ Catalog ------------------

func (s *shell) printGames(games []*library.Game) {
	fmt.Fprintf(s.out, "%-5s %-14s %-36s %-12s %-10s\n", "ID", "UPC", "Title", "Platform", "Status")
	fmt.Fprintln(s.out, strings.Repeat("-", 82))
	for _, g := range games {
		fmt.Fprintln(s.out, library.PrettyGame(g))
	}
}

func (s *shell) listGames(ctx context.Context) error {
	games, err := s.app.mgr.ListGames(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintln(s.out, "No games in the library.")
		return nil
	}
	s.printGames(games)
	return nil
}

func (s *shell) searchGames(ctx context.Context) error {
	q, _ := s.prompt("Query: ")
	games, err := s.app.mgr.SearchGames(ctx, q)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintf(s.out, "No games found matching '%s'.\n", q)
		return nil
	}
	fmt.Fprintf(s.out, "Found %d game(s) matching '%s':\n", len(games), q)
	s.printGames(games)
	return nil
}

func (s *shell) showGame(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	g, err := s.app.mgr.GetGame(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s (UPC %s)\n%s\n", g.Title, g.UPC, g.Description)
	fmt.Fprintf(s.out, "Genre: %s  Platform: %s  Location: %s\n", g.Genre, g.Platform, g.Location)
	if g.ReleaseDate != nil {
		fmt.Fprintf(s.out, "Released: %s\n", g.ReleaseDate.Format(time.DateOnly))
	}
	if loan, err := s.app.mgr.OpenLoanForGame(ctx, id); err != nil {
		return err
	} else if loan != nil {
		fmt.Fprintf(s.out, "On loan until %s\n", loan.DueAt.Format(time.DateOnly))
	} else {
		fmt.Fprintln(s.out, "Available")
	}

	rating, err := s.app.mgr.GameRating(ctx, id)
	if err != nil {
		return err
	}
	if rating.Count > 0 {
		fmt.Fprintf(s.out, "Rating: %.1f/5 from %d rating(s)\n", rating.Average, rating.Count)
	}
	cols, err := s.app.mgr.CollectionsForGame(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range cols {
		fmt.Fprintf(s.out, "In collection %d: %s\n", c.ID, c.Name)
	}
	comments, err := s.app.mgr.ListComments(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range comments {
		fmt.Fprintf(s.out, "  [%s] user %d: %s\n", c.CreatedAt.Format(time.DateOnly), c.UserID, c.Body)
	}
	return nil
}

func (s *shell) addGame(ctx context.Context) error {
	in, err := s.promptGameInput(nil)
	if err != nil {
		return err
	}
	g, err := s.app.mgr.AddGame(ctx, s.actor, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Added game ID %d with UPC %s\n", g.ID, g.UPC)
	return nil
}

func (s *shell) editGame(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	current, err := s.app.mgr.GetGame(ctx, id)
	if err != nil {
		return err
	}
	in, err := s.promptGameInput(current)
	if err != nil {
		return err
	}
	if _, err := s.app.mgr.UpdateGame(ctx, s.actor, id, in); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Updated game %d\n", id)
	return nil
}

func (s *shell) deleteGame(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	if err := s.app.mgr.DeleteGame(ctx, s.actor, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted game %d\n", id)
	return nil
}

// ------------------ Circulation ------------------

func (s *shell) printRequests(reqs []*library.BorrowRequest) {
	if len(reqs) == 0 {
		fmt.Fprintln(s.out, "No borrow requests.")
		return
	}
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGame\tRequester\tDays\tStatus\tRequested")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\n", r.ID, r.GameID, r.RequesterID, r.DurationDays, r.Status, r.RequestedAt.Format(time.DateTime))
	}
	tw.Flush()
}

func (s *shell) printLoans(loans []*library.Loan) {
	if len(loans) == 0 {
		fmt.Fprintln(s.out, "No loans.")
		return
	}
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGame\tBorrower\tBorrowed\tDue\tReturned")
	for _, l := range loans {
		returned := "-"
		if l.ReturnedAt != nil {
			returned = l.ReturnedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", l.ID, l.GameID, l.BorrowerID,
			l.BorrowedAt.Format(time.DateOnly), l.DueAt.Format(time.DateOnly), returned)
	}
	tw.Flush()
}

func (s *shell) borrow(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	days, err := s.promptDuration()
	if err != nil {
		return err
	}
	r, err := s.app.mgr.RequestBorrow(ctx, s.actor, id, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Borrow request %d is pending librarian approval.\n", r.ID)
	if loan, err := s.app.mgr.OpenLoanForGame(ctx, id); err == nil && loan != nil {
		fmt.Fprintf(s.out, "Note: the game is on loan until %s.\n", loan.DueAt.Format(time.DateOnly))
	}
	return nil
}

func (s *shell) cancelRequest(ctx context.Context) error {
	id, err := s.promptID("Request ID: ")
	if err != nil {
		return err
	}
	if err := s.app.mgr.CancelBorrowRequest(ctx, s.actor, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Cancelled request %d\n", id)
	return nil
}

func (s *shell) myRequests(ctx context.Context) error {
	reqs, err := s.app.mgr.ListUserBorrowRequests(ctx, s.actor.ID)
	if err != nil {
		return err
	}
	s.printRequests(reqs)
	return nil
}

func (s *shell) myLoans(ctx context.Context) error {
	loans, err := s.app.mgr.ListUserLoans(ctx, s.actor.ID)
	if err != nil {
		return err
	}
	s.printLoans(loans)
	return nil
}

func (s *shell) returnLoan(ctx context.Context) error {
	id, err := s.promptID("Loan ID: ")
	if err != nil {
		return err
	}
	l, err := s.app.mgr.ReturnLoan(ctx, s.actor, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Returned game %d\n", l.GameID)
	return nil
}

func (s *shell) listRequests(ctx context.Context) error {
	reqs, err := s.app.mgr.ListBorrowRequests(ctx, library.StatusPending)
	if err != nil {
		return err
	}
	s.printRequests(reqs)
	return nil
}

func (s *shell) approveRequest(ctx context.Context) error {
	id, err := s.promptID("Request ID: ")
	if err != nil {
		return err
	}
	l, err := s.app.mgr.ApproveBorrowRequest(ctx, s.actor, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Loan %d opened, due %s\n", l.ID, l.DueAt.Format(time.DateOnly))
	return nil
}

func (s *shell) rejectRequest(ctx context.Context) error {
	id, err := s.promptID("Request ID: ")
	if err != nil {
		return err
	}
	if _, err := s.app.mgr.RejectBorrowRequest(ctx, s.actor, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Rejected request %d\n", id)
	return nil
}

func (s *shell) checkout(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	days, err := s.promptDuration()
	if err != nil {
		return err
	}
	l, err := s.app.mgr.CheckoutGame(ctx, s.actor, id, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Loan %d opened, due %s\n", l.ID, l.DueAt.Format(time.DateOnly))
	return nil
}

func (s *shell) listLoans(ctx context.Context) error {
	loans, err := s.app.mgr.ListOpenLoans(ctx)
	if err != nil {
		return err
	}
	s.printLoans(loans)
	return nil
}

func (s *shell) overdue(ctx context.Context) error {
	loans, err := s.app.mgr.ListOverdueLoans(ctx)
	if err != nil {
		return err
	}
	s.printLoans(loans)
	return nil
}

// ------------------ Collections ------------------

func (s *shell) listCollections(ctx context.Context) error {
	cols, err := s.app.mgr.ListCollections(ctx)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		fmt.Fprintln(s.out, "No collections yet.")
		return nil
	}
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName\tCreator\tPrivate")
	for _, c := range cols {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\n", c.ID, library.TruncateString(c.Name, 40), c.CreatorID, c.IsPrivate)
	}
	tw.Flush()
	return nil
}

func (s *shell) showCollection(ctx context.Context) error {
	id, err := s.promptID("Collection ID: ")
	if err != nil {
		return err
	}
	c, err := s.app.mgr.GetCollection(ctx, s.actor, id)
	if err != nil {
		if library.IsCode(err, library.CodePermission) {
			fmt.Fprintln(s.out, "This collection is private. Use 'request access' to ask for it.")
			return nil
		}
		return err
	}
	fmt.Fprintf(s.out, "%s\n%s\n", c.Name, c.Description)
	var games []*library.Game
	for _, gameID := range c.GameIDs {
		g, err := s.app.mgr.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		games = append(games, g)
	}
	s.printGames(games)
	return nil
}

func (s *shell) createCollection(ctx context.Context) error {
	name, _ := s.prompt("Name: ")
	description, _ := s.prompt("Description: ")
	ids, err := s.promptIDs("Game IDs (comma separated): ")
	if err != nil {
		return err
	}
	private := false
	if s.actor.IsLibrarian() {
		answer, _ := s.prompt("Private? (y/N): ")
		private = strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	}
	c, err := s.app.mgr.CreateCollection(ctx, s.actor, library.CollectionInput{
		Name: name, Description: description, GameIDs: ids, IsPrivate: private,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Created collection %d with %d game(s)\n", c.ID, len(c.GameIDs))
	return nil
}

func (s *shell) editCollection(ctx context.Context) error {
	id, err := s.promptID("Collection ID: ")
	if err != nil {
		return err
	}
	name, _ := s.prompt("Name: ")
	description, _ := s.prompt("Description: ")
	if _, err := s.app.mgr.UpdateCollection(ctx, s.actor, id, library.CollectionUpdate{Name: name, Description: description}); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Updated collection %d\n", id)
	return nil
}

func (s *shell) collectionAndGame() (int64, int64, error) {
	collectionID, err := s.promptID("Collection ID: ")
	if err != nil {
		return 0, 0, err
	}
	gameID, err := s.promptID("Game ID: ")
	if err != nil {
		return 0, 0, err
	}
	return collectionID, gameID, nil
}

func (s *shell) addToCollection(ctx context.Context) error {
	collectionID, gameID, err := s.collectionAndGame()
	if err != nil {
		return err
	}
	c, err := s.app.mgr.AddGameToCollection(ctx, s.actor, collectionID, gameID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Collection %d now has %d game(s)\n", c.ID, len(c.GameIDs))
	return nil
}

func (s *shell) removeFromCollection(ctx context.Context) error {
	collectionID, gameID, err := s.collectionAndGame()
	if err != nil {
		return err
	}
	c, err := s.app.mgr.RemoveGameFromCollection(ctx, s.actor, collectionID, gameID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Collection %d now has %d game(s)\n", c.ID, len(c.GameIDs))
	return nil
}

func (s *shell) setPrivate(ctx context.Context, private bool) error {
	id, err := s.promptID("Collection ID: ")
	if err != nil {
		return err
	}
	c, err := s.app.mgr.SetCollectionPrivate(ctx, s.actor, id, private)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Collection %d private: %t\n", c.ID, c.IsPrivate)
	return nil
}

func (s *shell) makePrivate(ctx context.Context) error { return s.setPrivate(ctx, true) }
func (s *shell) makePublic(ctx context.Context) error  { return s.setPrivate(ctx, false) }

func (s *shell) deleteCollection(ctx context.Context) error {
	id, err := s.promptID("Collection ID: ")
	if err != nil {
		return err
	}
	if err := s.app.mgr.DeleteCollection(ctx, s.actor, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted collection %d\n", id)
	return nil
}

// ------------------ Access requests ------------------

func (s *shell) requestAccess(ctx context.Context) error {
	id, err := s.promptID("Collection ID: ")
	if err != nil {
		return err
	}
	res, err := s.app.mgr.RequestAccess(ctx, s.actor, id)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case library.AccessCreated:
		fmt.Fprintf(s.out, "Access request %d sent.\n", res.Request.ID)
	case library.AccessReopened:
		fmt.Fprintf(s.out, "Access request %d sent again.\n", res.Request.ID)
	case library.AccessAlreadyPending:
		fmt.Fprintln(s.out, "You already have a pending request for this collection.")
	case library.AccessAlreadyApproved:
		fmt.Fprintln(s.out, "You already have access to this collection.")
	}
	return nil
}

func (s *shell) listAccessRequests(ctx context.Context) error {
	reqs, err := s.app.mgr.ListAccessRequests(ctx, library.StatusPending)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Fprintln(s.out, "No pending access requests.")
		return nil
	}
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCollection\tRequester\tRequested")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", r.ID, r.CollectionID, r.RequesterID, r.UpdatedAt.Format(time.DateTime))
	}
	tw.Flush()
	return nil
}

func (s *shell) approveAccess(ctx context.Context) error {
	id, err := s.promptID("Access request ID: ")
	if err != nil {
		return err
	}
	res, err := s.app.mgr.ApproveAccessRequest(ctx, s.actor, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Approved. %d loan(s) opened.\n", len(res.Loans))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(s.out, "Skipped games already on loan: %v\n", res.Skipped)
	}
	return nil
}

func (s *shell) rejectAccess(ctx context.Context) error {
	id, err := s.promptID("Access request ID: ")
	if err != nil {
		return err
	}
	if _, err := s.app.mgr.RejectAccessRequest(ctx, s.actor, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Rejected access request %d\n", id)
	return nil
}

// ------------------ Ratings and comments ------------------

func (s *shell) rate(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	raw, _ := s.prompt("Score (1-5): ")
	score, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid score: %q", raw)
	}
	if _, err := s.app.mgr.RateGame(ctx, s.actor, id, score); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Thanks for rating!")
	return nil
}

func (s *shell) comment(ctx context.Context) error {
	id, err := s.promptID("Game ID: ")
	if err != nil {
		return err
	}
	body, _ := s.prompt("Comment: ")
	if _, err := s.app.mgr.AddComment(ctx, s.actor, id, body); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Comment added.")
	return nil
}

// ------------------ Users ------------------

func (s *shell) resetPassword(ctx context.Context) error {
	userID := s.actor.ID
	if s.actor.IsLibrarian() {
		raw, _ := s.prompt(fmt.Sprintf("User ID [%d]: ", userID))
		if raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id: %q", raw)
			}
			userID = id
		}
	}
	u, err := s.app.mgr.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	password, err := readPassword(fmt.Sprintf("Enter new password for %s (ID: %d): ", u.Username, u.ID))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := s.app.mgr.ResetPassword(ctx, s.actor, userID, password); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Password successfully reset for %s (ID: %d)\n", u.Username, u.ID)
	return nil
}

func (s *shell) listUsers(ctx context.Context) error {
	users, err := s.app.mgr.ListUsers(ctx)
	if err != nil {
		return err
	}
	printUsers(s.out, users)
	return nil
}

func (s *shell) setRole(ctx context.Context) error {
	id, err := s.promptID("User ID: ")
	if err != nil {
		return err
	}
	raw, _ := s.prompt("Role (patron/librarian): ")
	role, err := library.ParseRole(raw)
	if err != nil {
		return err
	}
	u, err := s.app.mgr.SetUserRole(ctx, s.actor, id, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s is now a %s\n", u.Username, u.Role)
	return nil
}
