// Package activity implements the engagement rules: counting messages and
// voice time, promoting active members to the status role, and revoking the
// role again once a decay window passes without enough activity.
package activity

import (
	"context"
	"errors"

	"activitybot/internal/models"
)

var (
	// ErrMemberNotFound is returned by a Guild when the user has left.
	ErrMemberNotFound = errors.New("member not found")
	// ErrNoGuild is returned when no guild has been resolved yet.
	ErrNoGuild = errors.New("guild not available")
)

// Store is the record store the rules read and mutate.
type Store interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, userID string) (*models.UserRecord, error)
	UpsertIncrement(ctx context.Context, userID string, counter models.Counter, delta int64) error
	SetFields(ctx context.Context, userID string, u models.FieldUpdate) error
	ListTimed(ctx context.Context) ([]models.UserRecord, error)
	List(ctx context.Context) ([]models.UserRecord, error)
}

// Member is a live guild member as seen by the rules.
type Member struct {
	ID    string
	Name  string
	Bot   bool
	Roles []string
}

// Guild is the chat-platform side the rules act on.
type Guild interface {
	Member(ctx context.Context, userID string) (*Member, error)
	RoleExists(ctx context.Context, roleID string) bool
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
}
