// Package memory implements the shortener stores in process memory.
// Contents are lost when the process exits.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

var errNotFound = errors.New("not found")

// LinkStore keeps links keyed by id with a secondary index on code.
type LinkStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]shortener.Link
	byCode map[string]uuid.UUID
	seq    map[uuid.UUID]uint64
	next   uint64
}

func NewLinkStore() *LinkStore {
	return &LinkStore{
		byID:   make(map[uuid.UUID]shortener.Link),
		byCode: make(map[string]uuid.UUID),
		seq:    make(map[uuid.UUID]uint64),
	}
}

// Save inserts link. The code check and the insert happen under one lock.
func (s *LinkStore) Save(_ context.Context, link shortener.Link) error {
	const op = "memory.LinkStore.Save"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[link.Code]; ok {
		return errx.E(op, errx.Conflict, fmt.Errorf("code %s: %w", link.Code, shortener.ErrCodeTaken))
	}
	if _, ok := s.byID[link.ID]; ok {
		return errx.E(op, errx.Conflict, fmt.Errorf("link %s already exists", link.ID))
	}

	s.byID[link.ID] = link
	s.byCode[link.Code] = link.ID
	s.next++
	s.seq[link.ID] = s.next
	return nil
}

// GetAll returns every link in insertion order.
func (s *LinkStore) GetAll(_ context.Context) ([]shortener.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]shortener.Link, 0, len(s.byID))
	for _, link := range s.byID {
		out = append(out, link)
	}
	slices.SortFunc(out, func(a, b shortener.Link) int {
		return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
	})
	return out, nil
}

func (s *LinkStore) GetByCode(_ context.Context, code string) (shortener.Link, error) {
	const op = "memory.LinkStore.GetByCode"

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return shortener.Link{}, errx.E(op, errx.NotFound, fmt.Errorf("code %s: %w", code, errNotFound))
	}
	return s.byID[id], nil
}

// Update replaces the stored link with the same id. The code is immutable.
func (s *LinkStore) Update(_ context.Context, link shortener.Link) error {
	const op = "memory.LinkStore.Update"

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[link.ID]
	if !ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("link %s: %w", link.ID, errNotFound))
	}
	if current.Code != link.Code {
		return errx.E(op, errx.Invalid, errors.New("short code cannot change"))
	}
	s.byID[link.ID] = link
	return nil
}

func (s *LinkStore) Delete(_ context.Context, id uuid.UUID) error {
	const op = "memory.LinkStore.Delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("link %s: %w", id, errNotFound))
	}
	delete(s.byID, id)
	delete(s.byCode, link.Code)
	delete(s.seq, id)
	return nil
}

type UserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]shortener.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uuid.UUID]shortener.User)}
}

func (s *UserStore) Add(_ context.Context, user shortener.User) error {
	const op = "memory.UserStore.Add"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return errx.E(op, errx.Conflict, fmt.Errorf("user %s already exists", user.ID))
	}
	s.users[user.ID] = user
	return nil
}

func (s *UserStore) Get(_ context.Context, id uuid.UUID) (shortener.User, error) {
	const op = "memory.UserStore.Get"

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return shortener.User{}, errx.E(op, errx.NotFound, fmt.Errorf("user %s: %w", id, errNotFound))
	}
	return user, nil
}

// NotificationStore keeps notifications in arrival order.
type NotificationStore struct {
	mu    sync.RWMutex
	items []shortener.Notification
	index map[uuid.UUID]int
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{index: make(map[uuid.UUID]int)}
}

func (s *NotificationStore) Add(_ context.Context, n shortener.Notification) error {
	const op = "memory.NotificationStore.Add"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[n.ID]; ok {
		return errx.E(op, errx.Conflict, fmt.Errorf("notification %s already exists", n.ID))
	}
	s.index[n.ID] = len(s.items)
	s.items = append(s.items, n)
	return nil
}

func (s *NotificationStore) ListUnread(_ context.Context, userID uuid.UUID) ([]shortener.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []shortener.Notification
	for _, n := range s.items {
		if n.RecipientID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, id uuid.UUID) error {
	const op = "memory.NotificationStore.MarkRead"

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("notification %s: %w", id, errNotFound))
	}
	s.items[i].Read = true
	return nil
}

// New returns a fresh set of memory stores.
func New() shortener.Stores {
	return shortener.Stores{
		Links:         NewLinkStore(),
		Users:         NewUserStore(),
		Notifications: NewNotificationStore(),
	}
}

var (
	_ shortener.LinkStore         = (*LinkStore)(nil)
	_ shortener.UserStore         = (*UserStore)(nil)
	_ shortener.NotificationStore = (*NotificationStore)(nil)
)
