// Package redisstore implements the shortener stores on Redis.
//
// Every record is a hash. Links are indexed by code and kept in a sorted
// set in insertion order; each user's unread notifications live in a
// sorted set of their own. Multi-key writes run as Lua scripts, so the
// keyspace must live on a single node.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

const DefaultPrefix = "linkkeeper:"

// keys derives every key from one prefix.
type keys struct {
	prefix string
}

func (k keys) link(id uuid.UUID) string         { return k.prefix + "link:" + id.String() }
func (k keys) codePrefix() string               { return k.prefix + "code:" }
func (k keys) code(code string) string          { return k.codePrefix() + code }
func (k keys) links() string                    { return k.prefix + "links" }
func (k keys) linkSeq() string                  { return k.prefix + "links:seq" }
func (k keys) user(id uuid.UUID) string         { return k.prefix + "user:" + id.String() }
func (k keys) notification(id uuid.UUID) string { return k.prefix + "notification:" + id.String() }
func (k keys) notificationSeq() string          { return k.prefix + "notifications:seq" }
func (k keys) unreadPrefix() string             { return k.prefix + "unread:" }
func (k keys) unread(user uuid.UUID) string     { return k.unreadPrefix() + user.String() }

// New returns the three stores on rdb. An empty prefix selects
// DefaultPrefix.
func New(rdb *redis.Client, prefix string) shortener.Stores {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	k := keys{prefix: prefix}
	return shortener.Stores{
		Links:         &LinkStore{rdb: rdb, keys: k},
		Users:         &UserStore{rdb: rdb, keys: k},
		Notifications: &NotificationStore{rdb: rdb, keys: k},
	}
}

// KEYS: code, link, links, seq. ARGV: id, field pairs.
var saveLinkScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then return -1 end
if redis.call("EXISTS", KEYS[2]) == 1 then return -2 end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], unpack(ARGV, 2))
local seq = redis.call("INCR", KEYS[4])
redis.call("ZADD", KEYS[3], seq, ARGV[1])
return 1
`)

// KEYS: link. ARGV: code, field pairs.
var updateLinkScript = redis.NewScript(`
local code = redis.call("HGET", KEYS[1], "code")
if not code then return 0 end
if code ~= ARGV[1] then return -1 end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
return 1
`)

// KEYS: link, links. ARGV: id, code key prefix.
var deleteLinkScript = redis.NewScript(`
local code = redis.call("HGET", KEYS[1], "code")
if not code then return 0 end
redis.call("DEL", KEYS[1], ARGV[2] .. code)
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// KEYS: record. ARGV: field pairs.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then return -1 end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: notification, unread, seq. ARGV: id, field pairs.
var addNotificationScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then return -1 end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
local seq = redis.call("INCR", KEYS[3])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
return 1
`)

// KEYS: notification. ARGV: id, unread key prefix.
var markReadScript = redis.NewScript(`
local recipient = redis.call("HGET", KEYS[1], "recipient_id")
if not recipient then return 0 end
redis.call("HSET", KEYS[1], "read", "1")
redis.call("ZREM", ARGV[2] .. recipient, ARGV[1])
return 1
`)

func runScript(ctx context.Context, rdb *redis.Client, s *redis.Script, keyList []string, args ...any) (int, error) {
	return s.Run(ctx, rdb, keyList, args...).Int()
}

// loadHashes fetches the hashes at keys in one round trip, preserving order.
func loadHashes(ctx context.Context, rdb *redis.Client, hashKeys []string) ([]map[string]string, error) {
	cmds := make([]*redis.MapStringStringCmd, len(hashKeys))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range hashKeys {
			cmds[i] = p.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]map[string]string, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

/***************
 * Links
 ***************/

type LinkStore struct {
	rdb  *redis.Client
	keys keys
}

// Save inserts link. The code check and the writes run in one script.
func (s *LinkStore) Save(ctx context.Context, link shortener.Link) error {
	const op = "redisstore.LinkStore.Save"

	args := append([]any{link.ID.String()}, linkFields(link)...)
	res, err := runScript(ctx, s.rdb, saveLinkScript,
		[]string{s.keys.code(link.Code), s.keys.link(link.ID), s.keys.links(), s.keys.linkSeq()},
		args...,
	)
	if err != nil {
		return mapError(op, err)
	}

	switch res {
	case resultOK:
		return nil
	case resultConflict:
		return errx.E(op, errx.Conflict, fmt.Errorf("code %s: %w", link.Code, shortener.ErrCodeTaken))
	default:
		return errx.E(op, errx.Conflict, fmt.Errorf("link %s already exists", link.ID))
	}
}

// GetAll returns every link in insertion order.
func (s *LinkStore) GetAll(ctx context.Context) ([]shortener.Link, error) {
	const op = "redisstore.LinkStore.GetAll"

	ids, err := s.rdb.ZRange(ctx, s.keys.links(), 0, -1).Result()
	if err != nil {
		return nil, mapError(op, err)
	}

	hashKeys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errx.E(op, errx.Internal, fmt.Errorf("index member %q: %w", raw, err))
		}
		hashKeys = append(hashKeys, s.keys.link(id))
	}

	hashes, err := loadHashes(ctx, s.rdb, hashKeys)
	if err != nil {
		return nil, mapError(op, err)
	}

	links := make([]shortener.Link, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue // deleted between the two reads
		}
		link, err := parseLink(h)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		links = append(links, link)
	}
	return links, nil
}

func (s *LinkStore) GetByCode(ctx context.Context, code string) (shortener.Link, error) {
	const op = "redisstore.LinkStore.GetByCode"

	raw, err := s.rdb.Get(ctx, s.keys.code(code)).Result()
	if err != nil {
		return shortener.Link{}, mapError(op, fmt.Errorf("code %s: %w", code, err))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Internal, fmt.Errorf("code %s index: %w", code, err))
	}

	h, err := s.rdb.HGetAll(ctx, s.keys.link(id)).Result()
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	link, err := parseLink(h)
	if err != nil {
		if len(h) == 0 {
			return shortener.Link{}, mapError(op, fmt.Errorf("code %s: %w", code, err))
		}
		return shortener.Link{}, errx.E(op, errx.Internal, err)
	}
	return link, nil
}

// Update rewrites the stored hash. The code is immutable.
func (s *LinkStore) Update(ctx context.Context, link shortener.Link) error {
	const op = "redisstore.LinkStore.Update"

	args := append([]any{link.Code}, linkFields(link)...)
	res, err := runScript(ctx, s.rdb, updateLinkScript, []string{s.keys.link(link.ID)}, args...)
	if err != nil {
		return mapError(op, err)
	}

	switch res {
	case resultOK:
		return nil
	case resultMissing:
		return mapError(op, fmt.Errorf("link %s: %w", link.ID, errMissing))
	default:
		return errx.E(op, errx.Invalid, errors.New("short code cannot change"))
	}
}

func (s *LinkStore) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "redisstore.LinkStore.Delete"

	res, err := runScript(ctx, s.rdb, deleteLinkScript,
		[]string{s.keys.link(id), s.keys.links()},
		id.String(), s.keys.codePrefix(),
	)
	if err != nil {
		return mapError(op, err)
	}
	if res == resultMissing {
		return mapError(op, fmt.Errorf("link %s: %w", id, errMissing))
	}
	return nil
}

/***************
 * Users
 ***************/

type UserStore struct {
	rdb  *redis.Client
	keys keys
}

func (s *UserStore) Add(ctx context.Context, user shortener.User) error {
	const op = "redisstore.UserStore.Add"

	res, err := runScript(ctx, s.rdb, insertScript, []string{s.keys.user(user.ID)}, userFields(user)...)
	if err != nil {
		return mapError(op, err)
	}
	if res == resultConflict {
		return errx.E(op, errx.Conflict, fmt.Errorf("user %s already exists", user.ID))
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (shortener.User, error) {
	const op = "redisstore.UserStore.Get"

	h, err := s.rdb.HGetAll(ctx, s.keys.user(id)).Result()
	if err != nil {
		return shortener.User{}, mapError(op, err)
	}
	user, err := parseUser(h)
	if err != nil {
		if len(h) == 0 {
			return shortener.User{}, mapError(op, fmt.Errorf("user %s: %w", id, err))
		}
		return shortener.User{}, errx.E(op, errx.Internal, err)
	}
	return user, nil
}

/***************
 * Notifications
 ***************/

type NotificationStore struct {
	rdb  *redis.Client
	keys keys
}

func (s *NotificationStore) Add(ctx context.Context, n shortener.Notification) error {
	const op = "redisstore.NotificationStore.Add"

	args := append([]any{n.ID.String()}, notificationFields(n)...)
	res, err := runScript(ctx, s.rdb, addNotificationScript,
		[]string{s.keys.notification(n.ID), s.keys.unread(n.RecipientID), s.keys.notificationSeq()},
		args...,
	)
	if err != nil {
		return mapError(op, err)
	}
	if res == resultConflict {
		return errx.E(op, errx.Conflict, fmt.Errorf("notification %s already exists", n.ID))
	}
	return nil
}

// ListUnread returns the user's unread notifications in arrival order.
func (s *NotificationStore) ListUnread(ctx context.Context, userID uuid.UUID) ([]shortener.Notification, error) {
	const op = "redisstore.NotificationStore.ListUnread"

	ids, err := s.rdb.ZRange(ctx, s.keys.unread(userID), 0, -1).Result()
	if err != nil {
		return nil, mapError(op, err)
	}

	hashKeys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errx.E(op, errx.Internal, fmt.Errorf("unread member %q: %w", raw, err))
		}
		hashKeys = append(hashKeys, s.keys.notification(id))
	}

	hashes, err := loadHashes(ctx, s.rdb, hashKeys)
	if err != nil {
		return nil, mapError(op, err)
	}

	var out []shortener.Notification
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		n, err := parseNotification(h)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		if !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	const op = "redisstore.NotificationStore.MarkRead"

	res, err := runScript(ctx, s.rdb, markReadScript,
		[]string{s.keys.notification(id)},
		id.String(), s.keys.unreadPrefix(),
	)
	if err != nil {
		return mapError(op, err)
	}
	if res == resultMissing {
		return mapError(op, fmt.Errorf("notification %s: %w", id, errMissing))
	}
	return nil
}

var (
	_ shortener.LinkStore         = (*LinkStore)(nil)
	_ shortener.UserStore         = (*UserStore)(nil)
	_ shortener.NotificationStore = (*NotificationStore)(nil)
)
