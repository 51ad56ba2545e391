// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container and migrates the schema.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gatehouse_test"),
		tcpostgres.WithUsername("gatehouse"),
		tcpostgres.WithPassword("gatehouse"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.NewPool(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup, nil
}

var _ = Describe("Repositories", func() {
	var (
		pool     *pgxpool.Pool
		cleanup  func()
		users    *authpg.UserRepository
		sessions *authpg.SessionRepository
	)

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		users = authpg.NewUserRepository(pool)
		sessions = authpg.NewSessionRepository(pool)
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("UserRepository", func() {
		It("round-trips a user", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice", "somehash")
			Expect(err).NotTo(HaveOccurred())

			Expect(users.Create(ctx, user)).To(Succeed())

			got, err := users.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
			Expect(got.PasswordHash).To(Equal("somehash"))

			byID, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Username).To(Equal("alice"))
		})

		It("rejects duplicate usernames via the unique index", func() {
			ctx := context.Background()
			first, err := auth.NewUser("alice", "hash1")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, first)).To(Succeed())

			second, err := auth.NewUser("alice", "hash2")
			Expect(err).NotTo(HaveOccurred())
			err = users.Create(ctx, second)
			Expect(err).To(MatchError(auth.ErrDuplicateUsername))
		})

		It("matches usernames case-sensitively", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice", "somehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			_, err = users.GetByUsername(ctx, "Alice")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("updates the password hash", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice", "oldhash")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			Expect(users.UpdatePassword(ctx, user.ID, "newhash")).To(Succeed())

			got, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("newhash"))
		})
	})

	Describe("SessionRepository", func() {
		newStoredSession := func(ctx context.Context) *auth.Session {
			session, err := auth.NewSession(ulid.Make().String(), time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, session)).To(Succeed())
			return session
		}

		It("round-trips a session by token hash", func() {
			ctx := context.Background()
			session := newStoredSession(ctx)

			got, err := sessions.GetByTokenHash(ctx, session.TokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(session.ID))
			Expect(got.IsAnonymous()).To(BeTrue())
			Expect(got.PageCount).To(BeZero())
		})

		It("attaches a user and survives re-read", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice", "somehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			session := newStoredSession(ctx)
			Expect(sessions.AttachUser(ctx, session.ID, user.ID)).To(Succeed())

			got, err := sessions.GetByTokenHash(ctx, session.TokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).NotTo(BeNil())
			Expect(*got.UserID).To(Equal(user.ID))
		})

		It("increments the page counter atomically", func() {
			ctx := context.Background()
			session := newStoredSession(ctx)

			for want := 1; want <= 3; want++ {
				count, err := sessions.IncrementPageCount(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(want))
			}
		})

		It("delivers each message exactly once", func() {
			ctx := context.Background()
			session := newStoredSession(ctx)

			Expect(sessions.AppendMessage(ctx, session.ID, "one")).To(Succeed())
			Expect(sessions.AppendMessage(ctx, session.ID, "two")).To(Succeed())

			messages, err := sessions.DrainMessages(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(Equal([]string{"one", "two"}))

			messages, err = sessions.DrainMessages(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(BeEmpty())
		})

		It("cascades session deletion when the user row is deleted", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice", "somehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			session := newStoredSession(ctx)
			Expect(sessions.AttachUser(ctx, session.ID, user.ID)).To(Succeed())

			_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
			Expect(err).NotTo(HaveOccurred())

			_, err = sessions.GetByTokenHash(ctx, session.TokenHash)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("purges only expired sessions", func() {
			ctx := context.Background()
			live := newStoredSession(ctx)

			expired, err := auth.NewSession(ulid.Make().String(), time.Now().Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			expired.ExpiresAt = time.Now().Add(-time.Minute)
			Expect(sessions.Create(ctx, expired)).To(Succeed())

			count, err := sessions.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			_, err = sessions.GetByTokenHash(ctx, live.TokenHash)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
