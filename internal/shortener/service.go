package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkkeeper/codegen"
	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/idgen"
)

const (
	// MaxCodeAttempts bounds how many candidate codes CreateLink draws
	// before giving up with GenerationExhausted.
	MaxCodeAttempts = 3
	MaxURLLength    = 2048
)

// CreateLinkRequest represents the parameters for creating a new link.
// Zero TTL and zero MaxClicks select the configured caps.
type CreateLinkRequest struct {
	LongURL   string
	TTL       time.Duration
	MaxClicks int
}

// Limits are the caps every link is normalized against.
type Limits struct {
	MaxClicks int
	MaxTTL    time.Duration
}

func (l Limits) validate() error {
	if l.MaxClicks <= 0 {
		return errors.New("max clicks must be positive")
	}
	if l.MaxTTL <= 0 {
		return errors.New("max time to live must be positive")
	}
	return nil
}

// Service defines the link lifecycle operations.
type Service interface {
	Login(ctx context.Context, userID uuid.UUID) (Session, error)
	Register(ctx context.Context) (Session, error)

	CreateLink(ctx context.Context, sess Session, req CreateLinkRequest) (Link, error)
	UpdateExpiration(ctx context.Context, sess Session, code string, ttl time.Duration) (Link, error)
	UpdateMaxClicks(ctx context.Context, sess Session, code string, clicks int) (Link, error)
	DeleteLink(ctx context.Context, sess Session, code string) error
	FetchLink(ctx context.Context, sess Session, code string) (Link, error)
	ListLinks(ctx context.Context, sess Session) ([]Link, error)

	Sweep(ctx context.Context) (SweepReport, error)
	ConsumeNotifications(ctx context.Context, sess Session) ([]Notification, error)

	DefaultTTL() time.Duration
	DefaultClicks() int
}

// ServiceConfig holds the optional collaborators of the service.
type ServiceConfig struct {
	Generator codegen.Generator // default: codegen.New()
	IDs       idgen.Generator   // default: idgen.NewV7()
	Resolver  Resolver          // default: no-op
	Observer  Observer          // default: no-op
	Now       func() time.Time  // default: time.Now
	Logger    *slog.Logger      // default: discards
}

// service implements the Service interface.
type service struct {
	links         LinkStore
	users         UserStore
	notifications NotificationStore

	limits    Limits
	generator codegen.Generator
	ids       idgen.Generator
	resolver  Resolver
	observer  Observer
	now       func() time.Time
	logger    *slog.Logger

	// mu makes each validate-then-write sequence atomic with respect to
	// the sweep and to other mutations.
	mu sync.Mutex
}

// NewService creates a new service instance.
func NewService(stores Stores, limits Limits, config *ServiceConfig) (Service, error) {
	const op = "shortener.NewService"

	if stores.Links == nil || stores.Users == nil || stores.Notifications == nil {
		return nil, errx.E(op, errx.Invalid, errors.New("links, users and notifications stores are required"))
	}
	if err := limits.validate(); err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}

	if config == nil {
		config = &ServiceConfig{}
	}

	s := &service{
		links:         stores.Links,
		users:         stores.Users,
		notifications: stores.Notifications,
		limits:        limits,
		generator:     config.Generator,
		ids:           config.IDs,
		resolver:      config.Resolver,
		observer:      config.Observer,
		now:           config.Now,
		logger:        config.Logger,
	}
	if s.generator == nil {
		s.generator = codegen.New()
	}
	if s.ids == nil {
		s.ids = idgen.NewV7()
	}
	if s.resolver == nil {
		s.resolver = noopResolver{}
	}
	if s.observer == nil {
		s.observer = noopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

func (s *service) DefaultTTL() time.Duration { return s.limits.MaxTTL }

func (s *service) DefaultClicks() int { return s.limits.MaxClicks }

func (s *service) Login(ctx context.Context, userID uuid.UUID) (Session, error) {
	const op = "shortener.service.Login"

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errx.Is(err, errx.NotFound) {
			return Session{}, errx.E(op, errx.NotFound, fmt.Errorf("user %s not found: %w", userID, err))
		}
		return Session{}, errx.E(op, errx.RepositoryFailure, err)
	}
	return Session{UserID: user.ID}, nil
}

func (s *service) Register(ctx context.Context) (Session, error) {
	const op = "shortener.service.Register"

	id, err := s.ids.Generate()
	if err != nil {
		return Session{}, errx.E(op, errx.Internal, err)
	}

	user := User{ID: id, CreatedAt: s.now()}
	if err := s.users.Add(ctx, user); err != nil {
		return Session{}, errx.E(op, errx.RepositoryFailure, err)
	}

	s.logger.InfoContext(ctx, "user registered", "op", op, "user_id", id)
	return Session{UserID: id}, nil
}

// CreateLink issues a fresh short code for req.LongURL. A candidate already
// held by a stored link, found either by lookup or by a rejected Save,
// consumes one of MaxCodeAttempts tries.
func (s *service) CreateLink(ctx context.Context, sess Session, req CreateLinkRequest) (Link, error) {
	const op = "shortener.service.CreateLink"

	if !sess.Authenticated() {
		return Link{}, errx.E(op, errx.NotAuthorized, errNoSession)
	}
	if err := validateURL(req.LongURL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	ttl, err := s.normalizeTTL(req.TTL)
	if err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	clicks, err := s.normalizeClicks(req.MaxClicks)
	if err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for range MaxCodeAttempts {
		code, err := s.generator.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Internal, err)
		}

		_, err = s.links.GetByCode(ctx, code)
		if err == nil {
			s.logger.DebugContext(ctx, "short code collision", "op", op, "code", code)
			s.observer.CodeCollision()
			continue
		}
		if !errx.Is(err, errx.NotFound) {
			return Link{}, errx.E(op, errx.RepositoryFailure, err)
		}

		id, err := s.ids.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Internal, err)
		}

		now := s.now()
		link := Link{
			ID:              id,
			LongURL:         req.LongURL,
			Code:            code,
			OwnerID:         sess.UserID,
			RemainingClicks: clicks,
			CreatedAt:       now,
			ExpiresAt:       now.Add(ttl),
		}

		if err := s.links.Save(ctx, link); err != nil {
			if errors.Is(err, ErrCodeTaken) {
				s.logger.DebugContext(ctx, "short code taken on save", "op", op, "code", code)
				s.observer.CodeCollision()
				continue
			}
			return Link{}, errx.E(op, errx.RepositoryFailure, err)
		}
		s.observer.LinkCreated()
		return link, nil
	}

	return Link{}, errx.E(op, errx.GenerationExhausted,
		fmt.Errorf("could not generate a unique short code after %d attempts", MaxCodeAttempts))
}

// UpdateExpiration reschedules the deadline to CreatedAt+ttl. Unlike
// CreateLink, a zero ttl is taken literally.
func (s *service) UpdateExpiration(ctx context.Context, sess Session, code string, ttl time.Duration) (Link, error) {
	const op = "shortener.service.UpdateExpiration"

	if !sess.Authenticated() {
		return Link{}, errx.E(op, errx.NotAuthorized, errNoSession)
	}
	if ttl < 0 {
		return Link{}, errx.E(op, errx.Invalid, errors.New("time to live cannot be negative"))
	}
	if ttl > s.limits.MaxTTL {
		return Link{}, errx.E(op, errx.Invalid,
			fmt.Errorf("time to live %s exceeds the maximum of %s", ttl, s.limits.MaxTTL))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.ownedLiveLink(ctx, op, sess, code)
	if err != nil {
		return Link{}, err
	}

	link.ExpiresAt = link.CreatedAt.Add(ttl)
	if err := s.links.Update(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.RepositoryFailure, err)
	}
	return link, nil
}

// UpdateMaxClicks resets the remaining click budget to clicks.
func (s *service) UpdateMaxClicks(ctx context.Context, sess Session, code string, clicks int) (Link, error) {
	const op = "shortener.service.UpdateMaxClicks"

	if !sess.Authenticated() {
		return Link{}, errx.E(op, errx.NotAuthorized, errNoSession)
	}
	if clicks < 0 {
		return Link{}, errx.E(op, errx.Invalid, errors.New("click count cannot be negative"))
	}
	if clicks > s.limits.MaxClicks {
		return Link{}, errx.E(op, errx.Invalid,
			fmt.Errorf("click count %d exceeds the maximum of %d", clicks, s.limits.MaxClicks))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.ownedLiveLink(ctx, op, sess, code)
	if err != nil {
		return Link{}, err
	}

	link.RemainingClicks = clicks
	if err := s.links.Update(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.RepositoryFailure, err)
	}
	return link, nil
}

func (s *service) DeleteLink(ctx context.Context, sess Session, code string) error {
	const op = "shortener.service.DeleteLink"

	if !sess.Authenticated() {
		return errx.E(op, errx.NotAuthorized, errNoSession)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.ownedLiveLink(ctx, op, sess, code)
	if err != nil {
		return err
	}

	if err := s.links.Delete(ctx, link.ID); err != nil {
		return errx.E(op, errx.RepositoryFailure, err)
	}
	return nil
}

// FetchLink follows the link through the Resolver and, only if that
// succeeds, consumes one click.
func (s *service) FetchLink(ctx context.Context, sess Session, code string) (Link, error) {
	const op = "shortener.service.FetchLink"

	if !sess.Authenticated() {
		return Link{}, errx.E(op, errx.NotAuthorized, errNoSession)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.ownedLiveLink(ctx, op, sess, code)
	if err != nil {
		return Link{}, err
	}
	if link.RemainingClicks <= 0 {
		return Link{}, errx.E(op, errx.OutOfClicks, fmt.Errorf("link %s has no clicks left", code))
	}

	if err := s.resolver.Resolve(ctx, link.LongURL); err != nil {
		return Link{}, errx.E(op, errx.ResolutionFailure, err)
	}

	link.RemainingClicks--
	if err := s.links.Update(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.RepositoryFailure, err)
	}
	s.observer.LinkFetched()
	return link, nil
}

// ListLinks returns the caller's links, oldest first.
func (s *service) ListLinks(ctx context.Context, sess Session) ([]Link, error) {
	const op = "shortener.service.ListLinks"

	if !sess.Authenticated() {
		return nil, errx.E(op, errx.NotAuthorized, errNoSession)
	}

	all, err := s.links.GetAll(ctx)
	if err != nil {
		return nil, errx.E(op, errx.RepositoryFailure, err)
	}

	owned := make([]Link, 0, len(all))
	for _, link := range all {
		if link.OwnerID == sess.UserID {
			owned = append(owned, link)
		}
	}
	slices.SortStableFunc(owned, func(a, b Link) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return owned, nil
}

// Sweep removes every dead link in the store and notifies its owner.
// The first failure aborts the pass; links already removed stay removed,
// so rerunning it is safe.
func (s *service) Sweep(ctx context.Context) (SweepReport, error) {
	const op = "shortener.service.Sweep"

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.links.GetAll(ctx)
	if err != nil {
		return SweepReport{}, errx.E(op, errx.RepositoryFailure, err)
	}

	now := s.now()
	report := SweepReport{Scanned: len(all)}

	for _, link := range all {
		var reason Reason
		switch {
		case link.Expired(now):
			reason = ReasonExpired
		case link.RemainingClicks == 0:
			reason = ReasonOutOfClicks
		default:
			continue
		}

		// The notification is built first so a link is never removed
		// without one.
		id, err := s.ids.Generate()
		if err != nil {
			return report, errx.E(op, errx.Internal, err)
		}
		n := Notification{
			ID:          id,
			RecipientID: link.OwnerID,
			Message:     EvictionMessage(link.Code, reason),
			CreatedAt:   now,
		}

		if err := s.links.Delete(ctx, link.ID); err != nil {
			s.logger.ErrorContext(ctx, "sweep delete failed",
				"op", op, "code", link.Code, "error_kind", errx.KindOf(err).String(), "error", err)
			return report, errx.E(op, errx.RepositoryFailure, err)
		}

		if err := s.notifications.Add(ctx, n); err != nil {
			s.logger.ErrorContext(ctx, "sweep notification failed",
				"op", op, "code", link.Code, "error_kind", errx.KindOf(err).String(), "error", err)
			return report, errx.E(op, errx.NotificationFailure, err)
		}

		report.Evicted = append(report.Evicted, Eviction{Code: link.Code, OwnerID: link.OwnerID, Reason: reason})
		s.observer.LinkEvicted(reason)
		s.logger.InfoContext(ctx, "link evicted", "op", op, "code", link.Code, "reason", string(reason))
	}

	return report, nil
}

// ConsumeNotifications returns the caller's unread notifications and marks
// them read, so each is delivered at most once. If marking fails partway,
// the notifications already marked are returned along with the error.
func (s *service) ConsumeNotifications(ctx context.Context, sess Session) ([]Notification, error) {
	const op = "shortener.service.ConsumeNotifications"

	if !sess.Authenticated() {
		return nil, errx.E(op, errx.NotAuthorized, errNoSession)
	}

	unread, err := s.notifications.ListUnread(ctx, sess.UserID)
	if err != nil {
		return nil, errx.E(op, errx.NotificationFailure, err)
	}

	for i := range unread {
		if err := s.notifications.MarkRead(ctx, unread[i].ID); err != nil {
			return unread[:i], errx.E(op, errx.NotificationFailure, err)
		}
		unread[i].Read = true
	}
	return unread, nil
}

// EvictionMessage renders the notification text for a removed link.
func EvictionMessage(code string, reason Reason) string {
	return fmt.Sprintf("short link %s was removed: %s (%s)", code, reason, reason.Description())
}

var errNoSession = errors.New("log in or register first")

// ownedLiveLink loads the link by code and checks that sess owns it and
// that it has not expired.
func (s *service) ownedLiveLink(ctx context.Context, op string, sess Session, code string) (Link, error) {
	if code == "" {
		return Link{}, errx.E(op, errx.NotFound, errors.New("no short link given"))
	}

	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		if errx.Is(err, errx.NotFound) {
			return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("link %s not found: %w", code, err))
		}
		return Link{}, errx.E(op, errx.RepositoryFailure, err)
	}
	if link.OwnerID != sess.UserID {
		return Link{}, errx.E(op, errx.NotOwner, fmt.Errorf("link %s belongs to another user", code))
	}
	if link.Expired(s.now()) {
		return Link{}, errx.E(op, errx.Expired, fmt.Errorf("link %s expired at %s", code, link.ExpiresAt.Format(time.RFC3339)))
	}
	return link, nil
}

func (s *service) normalizeTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, errors.New("time to live cannot be negative")
	case ttl == 0:
		return s.limits.MaxTTL, nil
	case ttl > s.limits.MaxTTL:
		return 0, fmt.Errorf("time to live %s exceeds the maximum of %s", ttl, s.limits.MaxTTL)
	default:
		return ttl, nil
	}
}

func (s *service) normalizeClicks(clicks int) (int, error) {
	switch {
	case clicks < 0:
		return 0, errors.New("click count cannot be negative")
	case clicks == 0:
		return s.limits.MaxClicks, nil
	case clicks > s.limits.MaxClicks:
		return 0, fmt.Errorf("click count %d exceeds the maximum of %d", clicks, s.limits.MaxClicks)
	default:
		return clicks, nil
	}
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return errors.New("url too long (max 2048 characters)")
	}
	return nil
}
