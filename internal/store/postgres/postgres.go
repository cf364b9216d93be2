// Package postgres implements the shortener stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

// New returns the three stores backed by db.
func New(db DBTX) shortener.Stores {
	return shortener.Stores{
		Links:         NewLinkStore(db),
		Users:         NewUserStore(db),
		Notifications: NewNotificationStore(db),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func mustTime(ts pgtype.Timestamptz, field string) (time.Time, error) {
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%s unexpectedly NULL", field)
	}
	return ts.Time, nil
}

/***************
 * Links
 ***************/

const linkColumns = `id, long_url, code, owner_id, remaining_clicks, created_at, expires_at`

type LinkStore struct {
	db DBTX
}

func NewLinkStore(db DBTX) *LinkStore { return &LinkStore{db: db} }

func scanLink(row rowScanner) (shortener.Link, error) {
	var (
		link                 shortener.Link
		createdAt, expiresAt pgtype.Timestamptz
	)
	if err := row.Scan(&link.ID, &link.LongURL, &link.Code, &link.OwnerID, &link.RemainingClicks, &createdAt, &expiresAt); err != nil {
		return shortener.Link{}, err
	}

	var err error
	if link.CreatedAt, err = mustTime(createdAt, "created_at"); err != nil {
		return shortener.Link{}, err
	}
	if link.ExpiresAt, err = mustTime(expiresAt, "expires_at"); err != nil {
		return shortener.Link{}, err
	}
	return link, nil
}

// Save inserts link; the links_code_unique constraint rejects a taken code.
func (s *LinkStore) Save(ctx context.Context, link shortener.Link) error {
	const op = "postgres.LinkStore.Save"

	_, err := s.db.Exec(ctx,
		`INSERT INTO links (`+linkColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.ID, link.LongURL, link.Code, link.OwnerID, link.RemainingClicks, link.CreatedAt, link.ExpiresAt,
	)
	return mapError(op, err)
}

func (s *LinkStore) GetAll(ctx context.Context) ([]shortener.Link, error) {
	const op = "postgres.LinkStore.GetAll"

	rows, err := s.db.Query(ctx, `SELECT `+linkColumns+` FROM links ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(op, err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Link, error) {
		return scanLink(row)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return links, nil
}

func (s *LinkStore) GetByCode(ctx context.Context, code string) (shortener.Link, error) {
	const op = "postgres.LinkStore.GetByCode"

	link, err := scanLink(s.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE code = $1`, code))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

// Update writes the mutable fields. The code is part of the predicate so a
// row whose code changed is reported as missing.
func (s *LinkStore) Update(ctx context.Context, link shortener.Link) error {
	const op = "postgres.LinkStore.Update"

	tag, err := s.db.Exec(ctx,
		`UPDATE links SET long_url = $3, remaining_clicks = $4, expires_at = $5 WHERE id = $1 AND code = $2`,
		link.ID, link.Code, link.LongURL, link.RemainingClicks, link.ExpiresAt,
	)
	if err != nil {
		return mapError(op, err)
	}
	return mapError(op, expectAffected(tag))
}

func (s *LinkStore) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.LinkStore.Delete"

	tag, err := s.db.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return mapError(op, err)
	}
	return mapError(op, expectAffected(tag))
}

/***************
 * Users
 ***************/

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore { return &UserStore{db: db} }

func (s *UserStore) Add(ctx context.Context, user shortener.User) error {
	const op = "postgres.UserStore.Add"

	_, err := s.db.Exec(ctx, `INSERT INTO users (id, created_at) VALUES ($1, $2)`, user.ID, user.CreatedAt)
	return mapError(op, err)
}

func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (shortener.User, error) {
	const op = "postgres.UserStore.Get"

	var (
		user      shortener.User
		createdAt pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id).Scan(&user.ID, &createdAt)
	if err != nil {
		return shortener.User{}, mapError(op, err)
	}
	if user.CreatedAt, err = mustTime(createdAt, "created_at"); err != nil {
		return shortener.User{}, mapError(op, err)
	}
	return user, nil
}

/***************
 * Notifications
 ***************/

type NotificationStore struct {
	db DBTX
}

func NewNotificationStore(db DBTX) *NotificationStore { return &NotificationStore{db: db} }

func (s *NotificationStore) Add(ctx context.Context, n shortener.Notification) error {
	const op = "postgres.NotificationStore.Add"

	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (id, recipient_id, message, read, created_at) VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.RecipientID, n.Message, n.Read, n.CreatedAt,
	)
	return mapError(op, err)
}

// ListUnread returns the user's unread notifications in insertion order.
func (s *NotificationStore) ListUnread(ctx context.Context, userID uuid.UUID) ([]shortener.Notification, error) {
	const op = "postgres.NotificationStore.ListUnread"

	rows, err := s.db.Query(ctx,
		`SELECT id, recipient_id, message, read, created_at FROM notifications
		 WHERE recipient_id = $1 AND NOT read ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, mapError(op, err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Notification, error) {
		var (
			n         shortener.Notification
			createdAt pgtype.Timestamptz
		)
		if err := row.Scan(&n.ID, &n.RecipientID, &n.Message, &n.Read, &createdAt); err != nil {
			return shortener.Notification{}, err
		}
		var err error
		n.CreatedAt, err = mustTime(createdAt, "created_at")
		return n, err
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return items, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.NotificationStore.MarkRead"

	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return mapError(op, err)
	}
	return mapError(op, expectAffected(tag))
}

var (
	_ shortener.LinkStore         = (*LinkStore)(nil)
	_ shortener.UserStore         = (*UserStore)(nil)
	_ shortener.NotificationStore = (*NotificationStore)(nil)
)
