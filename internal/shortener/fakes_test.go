package shortener

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
)

/***************
 * Fakes
 ***************/

// fakeLinkStore is a map-backed LinkStore. The *Func fields, when set,
// replace the corresponding method for error injection.
type fakeLinkStore struct {
	mu    sync.Mutex
	links map[uuid.UUID]Link
	order []uuid.UUID

	saveFunc      func(ctx context.Context, link Link) error
	getAllFunc    func(ctx context.Context) ([]Link, error)
	getByCodeFunc func(ctx context.Context, code string) (Link, error)
	updateFunc    func(ctx context.Context, link Link) error
	deleteFunc    func(ctx context.Context, id uuid.UUID) error

	saves   int
	lookups int
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{links: make(map[uuid.UUID]Link)}
}

func (f *fakeLinkStore) Save(ctx context.Context, link Link) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	if f.saveFunc != nil {
		return f.saveFunc(ctx, link)
	}
	return f.put(link)
}

func (f *fakeLinkStore) put(link Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.Code == link.Code {
			return errx.E("fake.LinkStore.Save", errx.Conflict, fmt.Errorf("code %s: %w", link.Code, ErrCodeTaken))
		}
	}
	f.links[link.ID] = link
	f.order = append(f.order, link.ID)
	return nil
}

func (f *fakeLinkStore) GetAll(ctx context.Context) ([]Link, error) {
	if f.getAllFunc != nil {
		return f.getAllFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Link, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.links[id])
	}
	return out, nil
}

func (f *fakeLinkStore) GetByCode(ctx context.Context, code string) (Link, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	if f.getByCodeFunc != nil {
		return f.getByCodeFunc(ctx, code)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.Code == code {
			return link, nil
		}
	}
	return Link{}, errx.E("fake.LinkStore.GetByCode", errx.NotFound, errors.New("no such code"))
}

func (f *fakeLinkStore) Update(ctx context.Context, link Link) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, link)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[link.ID]; !ok {
		return errx.E("fake.LinkStore.Update", errx.NotFound, errors.New("no such link"))
	}
	f.links[link.ID] = link
	return nil
}

func (f *fakeLinkStore) Delete(ctx context.Context, id uuid.UUID) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[id]; !ok {
		return errx.E("fake.LinkStore.Delete", errx.NotFound, errors.New("no such link"))
	}
	delete(f.links, id)
	f.order = slices.DeleteFunc(f.order, func(x uuid.UUID) bool { return x == id })
	return nil
}

func (f *fakeLinkStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeLinkStore) byCode(code string) (Link, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.Code == code {
			return link, true
		}
	}
	return Link{}, false
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]User

	addFunc func(ctx context.Context, user User) error
	getFunc func(ctx context.Context, id uuid.UUID) (User, error)
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]User)}
}

func (f *fakeUserStore) Add(ctx context.Context, user User) error {
	if f.addFunc != nil {
		return f.addFunc(ctx, user)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserStore) Get(ctx context.Context, id uuid.UUID) (User, error) {
	if f.getFunc != nil {
		return f.getFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return User{}, errx.E("fake.UserStore.Get", errx.NotFound, errors.New("no such user"))
	}
	return user, nil
}

type fakeNotificationStore struct {
	mu    sync.Mutex
	items []Notification

	addFunc        func(ctx context.Context, n Notification) error
	listUnreadFunc func(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	markReadFunc   func(ctx context.Context, id uuid.UUID) error
}

func (f *fakeNotificationStore) Add(ctx context.Context, n Notification) error {
	if f.addFunc != nil {
		return f.addFunc(ctx, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	return nil
}

func (f *fakeNotificationStore) ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	if f.listUnreadFunc != nil {
		return f.listUnreadFunc(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notification
	for _, n := range f.items {
		if n.RecipientID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	if f.markReadFunc != nil {
		return f.markReadFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Read = true
			return nil
		}
	}
	return errx.E("fake.NotificationStore.MarkRead", errx.NotFound, errors.New("no such notification"))
}

func (f *fakeNotificationStore) all() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items)
}

// stubGenerator returns codes in order, then repeats the last one.
type stubGenerator struct {
	codes []string
	err   error
	calls int
}

func (g *stubGenerator) Generate() (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.codes) == 0 {
		return fmt.Sprintf("code%d", g.calls), nil
	}
	idx := min(g.calls-1, len(g.codes)-1)
	return g.codes[idx], nil
}

type stubResolver struct {
	err  error
	urls []string
}

func (r *stubResolver) Resolve(_ context.Context, longURL string) error {
	if r.err != nil {
		return r.err
	}
	r.urls = append(r.urls, longURL)
	return nil
}

type recordingObserver struct {
	mu         sync.Mutex
	created    int
	collisions int
	fetched    int
	evicted    map[Reason]int
}

func (o *recordingObserver) LinkCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *recordingObserver) CodeCollision() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collisions++
}

func (o *recordingObserver) LinkFetched() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetched++
}

func (o *recordingObserver) LinkEvicted(reason Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.evicted == nil {
		o.evicted = make(map[Reason]int)
	}
	o.evicted[reason]++
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

/***************
 * Harness
 ***************/

var testLimits = Limits{MaxClicks: 5, MaxTTL: 24 * time.Hour}

type harness struct {
	svc      Service
	links    *fakeLinkStore
	users    *fakeUserStore
	notes    *fakeNotificationStore
	gen      *stubGenerator
	resolver *stubResolver
	clock    *fakeClock
	observer *recordingObserver
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	h := &harness{
		links:    newFakeLinkStore(),
		users:    newFakeUserStore(),
		notes:    &fakeNotificationStore{},
		gen:      &stubGenerator{},
		resolver: &stubResolver{},
		clock:    newFakeClock(),
		observer: &recordingObserver{},
	}
	svc, err := NewService(
		Stores{Links: h.links, Users: h.users, Notifications: h.notes},
		testLimits,
		&ServiceConfig{Generator: h.gen, Resolver: h.resolver, Observer: h.observer, Now: h.clock.Now},
	)
	if err != nil {
		t.Fatalf("NewService() unexpected error: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) register(t testing.TB) Session {
	t.Helper()
	sess, err := h.svc.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}
	return sess
}

func (h *harness) create(t testing.TB, sess Session, req CreateLinkRequest) Link {
	t.Helper()
	link, err := h.svc.CreateLink(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("CreateLink() unexpected error: %v", err)
	}
	return link
}
