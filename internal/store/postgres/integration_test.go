package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

// setupPool starts a throwaway PostgreSQL container, applies the schema
// and returns a pool connected to it.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	// Twice, to prove the schema is idempotent.
	for range 2 {
		if err := Migrate(ctx, pool); err != nil {
			t.Fatalf("Migrate() failed: %v", err)
		}
	}
	return pool
}

func TestIntegration_Stores(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	stores := New(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	owner := shortener.User{ID: uuid.New(), CreatedAt: now}
	if err := stores.Users.Add(ctx, owner); err != nil {
		t.Fatalf("Users.Add() failed: %v", err)
	}

	t.Run("users", func(t *testing.T) {
		got, err := stores.Users.Get(ctx, owner.ID)
		if err != nil {
			t.Fatalf("Users.Get() failed: %v", err)
		}
		if !got.CreatedAt.Equal(now) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
		}
		if err := stores.Users.Add(ctx, owner); errx.KindOf(err) != errx.Conflict {
			t.Errorf("duplicate Add() kind = %v, want %v", errx.KindOf(err), errx.Conflict)
		}
		if _, err := stores.Users.Get(ctx, uuid.New()); errx.KindOf(err) != errx.NotFound {
			t.Errorf("Get(unknown) kind = %v, want %v", errx.KindOf(err), errx.NotFound)
		}
	})

	t.Run("links", func(t *testing.T) {
		link := shortener.Link{
			ID: uuid.New(), LongURL: "https://example.com", Code: "pgcode",
			OwnerID: owner.ID, RemainingClicks: 2,
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}
		if err := stores.Links.Save(ctx, link); err != nil {
			t.Fatalf("Links.Save() failed: %v", err)
		}

		dup := link
		dup.ID = uuid.New()
		err := stores.Links.Save(ctx, dup)
		if errx.KindOf(err) != errx.Conflict || !errors.Is(err, shortener.ErrCodeTaken) {
			t.Errorf("duplicate code Save() error = %v, want Conflict wrapping ErrCodeTaken", err)
		}

		orphan := link
		orphan.ID, orphan.Code, orphan.OwnerID = uuid.New(), "orphan", uuid.New()
		if err := stores.Links.Save(ctx, orphan); errx.KindOf(err) != errx.Invalid {
			t.Errorf("unknown owner Save() kind = %v, want %v", errx.KindOf(err), errx.Invalid)
		}

		link.RemainingClicks = 1
		link.ExpiresAt = now.Add(2 * time.Hour)
		if err := stores.Links.Update(ctx, link); err != nil {
			t.Fatalf("Links.Update() failed: %v", err)
		}

		got, err := stores.Links.GetByCode(ctx, "pgcode")
		if err != nil {
			t.Fatalf("Links.GetByCode() failed: %v", err)
		}
		if got.RemainingClicks != 1 || !got.ExpiresAt.Equal(link.ExpiresAt) || !got.CreatedAt.Equal(now) {
			t.Errorf("GetByCode() = %+v", got)
		}

		all, err := stores.Links.GetAll(ctx)
		if err != nil {
			t.Fatalf("Links.GetAll() failed: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("GetAll() returned %d links, want 1", len(all))
		}

		if err := stores.Links.Delete(ctx, link.ID); err != nil {
			t.Fatalf("Links.Delete() failed: %v", err)
		}
		if err := stores.Links.Delete(ctx, link.ID); errx.KindOf(err) != errx.NotFound {
			t.Errorf("second Delete() kind = %v, want %v", errx.KindOf(err), errx.NotFound)
		}
		if err := stores.Links.Update(ctx, link); errx.KindOf(err) != errx.NotFound {
			t.Errorf("Update() after delete kind = %v, want %v", errx.KindOf(err), errx.NotFound)
		}
	})

	t.Run("notifications", func(t *testing.T) {
		var ids []uuid.UUID
		for i := range 3 {
			n := shortener.Notification{
				ID: uuid.New(), RecipientID: owner.ID,
				Message: fmt.Sprintf("message %d", i), CreatedAt: now,
			}
			ids = append(ids, n.ID)
			if err := stores.Notifications.Add(ctx, n); err != nil {
				t.Fatalf("Notifications.Add() failed: %v", err)
			}
		}

		if err := stores.Notifications.MarkRead(ctx, ids[0]); err != nil {
			t.Fatalf("MarkRead() failed: %v", err)
		}

		unread, err := stores.Notifications.ListUnread(ctx, owner.ID)
		if err != nil {
			t.Fatalf("ListUnread() failed: %v", err)
		}
		if len(unread) != 2 || unread[0].ID != ids[1] || unread[1].ID != ids[2] {
			t.Errorf("ListUnread() = %+v, want messages 1 and 2 in order", unread)
		}

		if err := stores.Notifications.MarkRead(ctx, uuid.New()); errx.KindOf(err) != errx.NotFound {
			t.Errorf("MarkRead(unknown) kind = %v, want %v", errx.KindOf(err), errx.NotFound)
		}
	})
}

func TestIntegration_ServiceLifecycle(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	clock := time.Now().UTC().Truncate(time.Microsecond)
	svc, err := shortener.NewService(New(pool), shortener.Limits{MaxClicks: 3, MaxTTL: time.Hour},
		&shortener.ServiceConfig{Now: func() time.Time { return clock }})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	sess, err := svc.Register(ctx)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	link, err := svc.CreateLink(ctx, sess, shortener.CreateLinkRequest{LongURL: "https://example.com", TTL: time.Minute})
	if err != nil {
		t.Fatalf("CreateLink() failed: %v", err)
	}
	if _, err := svc.FetchLink(ctx, sess, link.Code); err != nil {
		t.Fatalf("FetchLink() failed: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	report, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if len(report.Evicted) != 1 || report.Evicted[0].Reason != shortener.ReasonExpired {
		t.Fatalf("Evicted = %+v, want one EXPIRED", report.Evicted)
	}

	notes, err := svc.ConsumeNotifications(ctx, sess)
	if err != nil {
		t.Fatalf("ConsumeNotifications() failed: %v", err)
	}
	if len(notes) != 1 || !notes[0].Read {
		t.Errorf("notifications = %+v, want one read notification", notes)
	}
	again, err := svc.ConsumeNotifications(ctx, sess)
	if err != nil || len(again) != 0 {
		t.Errorf("second ConsumeNotifications() = %v, %v; want empty", again, err)
	}
}
