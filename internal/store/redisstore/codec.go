package redisstore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

// Script results.
const (
	resultOK       = 1
	resultMissing  = 0
	resultConflict = -1
)

var errMissing = errors.New("not found")

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil), errors.Is(err, errMissing):
		return errx.E(op, errx.NotFound, err)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// fields collects the first decoding error so callers check once.
type fields struct {
	m   map[string]string
	err error
}

func (f *fields) id(name string) uuid.UUID {
	if f.err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(f.m[name])
	if err != nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return id
}

func (f *fields) number(name string) int {
	if f.err != nil {
		return 0
	}
	n, err := strconv.Atoi(f.m[name])
	if err != nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return n
}

func (f *fields) timestamp(name string) time.Time {
	if f.err != nil {
		return time.Time{}
	}
	t, err := parseTime(f.m[name])
	if err != nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return t
}

func linkFields(l shortener.Link) []any {
	return []any{
		"id", l.ID.String(),
		"long_url", l.LongURL,
		"code", l.Code,
		"owner_id", l.OwnerID.String(),
		"remaining_clicks", strconv.Itoa(l.RemainingClicks),
		"created_at", formatTime(l.CreatedAt),
		"expires_at", formatTime(l.ExpiresAt),
	}
}

func parseLink(m map[string]string) (shortener.Link, error) {
	if len(m) == 0 {
		return shortener.Link{}, errMissing
	}
	f := &fields{m: m}
	link := shortener.Link{
		ID:              f.id("id"),
		LongURL:         m["long_url"],
		Code:            m["code"],
		OwnerID:         f.id("owner_id"),
		RemainingClicks: f.number("remaining_clicks"),
		CreatedAt:       f.timestamp("created_at"),
		ExpiresAt:       f.timestamp("expires_at"),
	}
	if f.err != nil {
		return shortener.Link{}, f.err
	}
	return link, nil
}

func userFields(u shortener.User) []any {
	return []any{
		"id", u.ID.String(),
		"created_at", formatTime(u.CreatedAt),
	}
}

func parseUser(m map[string]string) (shortener.User, error) {
	if len(m) == 0 {
		return shortener.User{}, errMissing
	}
	f := &fields{m: m}
	user := shortener.User{
		ID:        f.id("id"),
		CreatedAt: f.timestamp("created_at"),
	}
	if f.err != nil {
		return shortener.User{}, f.err
	}
	return user, nil
}

func notificationFields(n shortener.Notification) []any {
	read := "0"
	if n.Read {
		read = "1"
	}
	return []any{
		"id", n.ID.String(),
		"recipient_id", n.RecipientID.String(),
		"message", n.Message,
		"read", read,
		"created_at", formatTime(n.CreatedAt),
	}
}

func parseNotification(m map[string]string) (shortener.Notification, error) {
	if len(m) == 0 {
		return shortener.Notification{}, errMissing
	}
	f := &fields{m: m}
	n := shortener.Notification{
		ID:          f.id("id"),
		RecipientID: f.id("recipient_id"),
		Message:     m["message"],
		Read:        m["read"] == "1",
		CreatedAt:   f.timestamp("created_at"),
	}
	if f.err != nil {
		return shortener.Notification{}, f.err
	}
	return n, nil
}
