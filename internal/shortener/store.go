package shortener

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrCodeTaken is wrapped by LinkStore.Save when another stored link
// already holds the code.
var ErrCodeTaken = errors.New("short code already taken")

// LinkStore persists links. Lookups that miss return an errx.NotFound error.
// Save must reject a duplicate code atomically with an errx.Conflict error
// wrapping ErrCodeTaken.
type LinkStore interface {
	Save(ctx context.Context, link Link) error
	GetAll(ctx context.Context) ([]Link, error)
	GetByCode(ctx context.Context, code string) (Link, error)
	Update(ctx context.Context, link Link) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserStore interface {
	Add(ctx context.Context, user User) error
	Get(ctx context.Context, id uuid.UUID) (User, error)
}

// NotificationStore persists notifications. ListUnread returns them oldest
// first.
type NotificationStore interface {
	Add(ctx context.Context, n Notification) error
	ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// Stores groups the three stores a Service needs.
type Stores struct {
	Links         LinkStore
	Users         UserStore
	Notifications NotificationStore
}
