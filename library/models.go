package library

import (
	"fmt"
	"strings"
	"time"
)

// Role is the capability a user holds in the library.
type Role string

const (
	RolePatron    Role = "patron"
	RoleLibrarian Role = "librarian"
)

var validRoles = []Role{RolePatron, RoleLibrarian}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input (case-insensitive) into a Role.
func ParseRole(value string) (Role, error) {
	normalized := Role(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// Actor is the resolved identity performing an operation.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (a Actor) IsLibrarian() bool { return a.Role == RoleLibrarian }

// RequestStatus is the lifecycle state shared by borrow and access requests.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

var validRequestStatuses = []RequestStatus{StatusPending, StatusApproved, StatusRejected}

func (s RequestStatus) String() string {
	return string(s)
}

func (s RequestStatus) IsValid() bool {
	for _, candidate := range validRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRequestStatus converts raw input into a RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	normalized := RequestStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid request status %q", value)
}

// LoanDurations lists the borrow durations, in days, a patron may request.
var LoanDurations = []int{7, 14, 21, 28}

// DefaultLoanDays is used for loans created by an approved access request.
const DefaultLoanDays = 14

// ValidLoanDuration reports whether days is one of LoanDurations.
func ValidLoanDuration(days int) bool {
	for _, d := range LoanDurations {
		if d == days {
			return true
		}
	}
	return false
}

// User is an account known to the identity store.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	RealName     string    `json:"real_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"` // Don't serialize password hash
	CreatedAt    time.Time `json:"created_at"`
}

// Registration is the payload for creating an account.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	RealName string `json:"real_name" validate:"max=100"`
	Role     Role   `json:"role"`
}

// Actor returns the user as an operation actor.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// Game is a catalog entry. UPC is assigned on creation and never changes.
type Game struct {
	ID          int64      `json:"id"`
	UPC         string     `json:"upc"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Genre       string     `json:"genre"`
	Platform    string     `json:"platform"`
	Location    string     `json:"location"`
	Available   bool       `json:"available"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GameInput carries the librarian-editable fields of a game.
type GameInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"required"`
	ReleaseDate *time.Time `json:"release_date"`
	Genre       string     `json:"genre" validate:"max=100"`
	Platform    string     `json:"platform" validate:"max=100"`
	Location    string     `json:"location" validate:"max=200"`
}

// Collection groups games. Members of a private collection belong to no
// other collection.
type Collection struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   int64     `json:"creator_id"`
	IsPrivate   bool      `json:"is_private"`
	GameIDs     []int64   `json:"game_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionInput is the payload for creating a collection.
type CollectionInput struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description string  `json:"description" validate:"required"`
	GameIDs     []int64 `json:"games" validate:"required,min=1,dive,gt=0"`
	IsPrivate   bool    `json:"is_private"`
}

// CollectionUpdate carries the editable metadata of a collection.
type CollectionUpdate struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
}

// BorrowRequest asks a librarian to lend a game for DurationDays.
type BorrowRequest struct {
	ID           int64         `json:"id"`
	GameID       int64         `json:"game_id"`
	RequesterID  int64         `json:"requester_id"`
	Status       RequestStatus `json:"status"`
	DurationDays int           `json:"duration_days"`
	RequestedAt  time.Time     `json:"requested_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy  *int64        `json:"processed_by,omitempty"`
}

func (r *BorrowRequest) IsPending() bool { return r.Status == StatusPending }

// Loan records a game lent to a borrower. A loan is open until returned.
type Loan struct {
	ID         int64      `json:"id"`
	GameID     int64      `json:"game_id"`
	BorrowerID int64      `json:"borrower_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	IsReturned bool       `json:"is_returned"`
}

// IsOverdue reports whether the loan is still open past its due date.
func (l *Loan) IsOverdue(now time.Time) bool {
	return !l.IsReturned && now.After(l.DueAt)
}

// CollectionAccessRequest asks to view a private collection. There is at
// most one per (collection, requester).
type CollectionAccessRequest struct {
	ID           int64         `json:"id"`
	CollectionID int64         `json:"collection_id"`
	RequesterID  int64         `json:"requester_id"`
	Status       RequestStatus `json:"status"`
	ProcessedBy  *int64        `json:"processed_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (r *CollectionAccessRequest) IsPending() bool { return r.Status == StatusPending }

// Rating is a user's 1-5 score for a game.
type Rating struct {
	ID        int64     `json:"id"`
	GameID    int64     `json:"game_id"`
	UserID    int64     `json:"user_id"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RatingSummary aggregates the ratings of one game.
type RatingSummary struct {
	GameID  int64   `json:"game_id"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type Comment struct {
	ID        int64     `json:"id"`
	GameID    int64     `json:"game_id"`
	UserID    int64     `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
