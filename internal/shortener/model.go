package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Link maps a generated short code to a long URL and carries the two
// budgets that retire it: a deadline and a click count.
type Link struct {
	ID              uuid.UUID
	LongURL         string
	Code            string
	OwnerID         uuid.UUID
	RemainingClicks int
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the link's deadline lies strictly before now.
func (l Link) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && l.ExpiresAt.Before(now)
}

type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

type Notification struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// Reason tags why the sweep removed a link.
type Reason string

const (
	ReasonExpired     Reason = "EXPIRED"
	ReasonOutOfClicks Reason = "OUT_OF_CLICKS"
)

func (r Reason) Description() string {
	switch r {
	case ReasonExpired:
		return "lifetime has ended"
	case ReasonOutOfClicks:
		return "click limit reached"
	default:
		return string(r)
	}
}

// Session identifies the caller. The zero Session is unauthenticated.
type Session struct {
	UserID uuid.UUID
}

func (s Session) Authenticated() bool { return s.UserID != uuid.Nil }

// Eviction records one link removed by a sweep.
type Eviction struct {
	Code    string
	OwnerID uuid.UUID
	Reason  Reason
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned int
	Evicted []Eviction
}
