package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/internal/store"
)

type execCall struct {
	SQL  string
	Args []any
}

type mockQuerier struct {
	execs    []execCall
	execErr  error
	queryErr error
}

func (m *mockQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{SQL: sql, Args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), m.execErr
}

func (m *mockQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, m.queryErr
}

func (m *mockQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

var _ = Describe("Stores", func() {
	var (
		ctx context.Context
		q   *mockQuerier
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = &mockQuerier{}
	})

	Describe("Users.Touch", func() {
		It("upserts the lower-cased username in UTC", func() {
			at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.FixedZone("CET", 3600))
			Expect(store.NewStores(q).Users().Touch(ctx, "PedroPombeiro", at)).To(Succeed())

			Expect(q.execs).To(HaveLen(1))
			Expect(q.execs[0].SQL).To(ContainSubstring("ON CONFLICT (username)"))
			Expect(q.execs[0].Args).To(Equal([]any{"pedropombeiro", at.UTC()}))
		})

		It("wraps database errors", func() {
			q.execErr = errors.New("connection reset")
			err := store.NewStores(q).Users().Touch(ctx, "pedropombeiro", time.Now())
			Expect(err).To(MatchError(ContainSubstring("touching user: connection reset")))
		})
	})

	Describe("query failures", func() {
		BeforeEach(func() {
			q.queryErr = errors.New("too many clients")
		})

		It("are wrapped when listing users", func() {
			_, err := store.NewStores(q).Users().ListRecentlyContacted(ctx, time.Now(), 10)
			Expect(err).To(MatchError(ContainSubstring("listing users")))
		})

		It("are wrapped when listing subscriptions", func() {
			_, err := store.NewStores(q).Subscriptions().ListByUsername(ctx, "pedropombeiro")
			Expect(err).To(MatchError(ContainSubstring("listing push subscriptions")))
		})
	})
})
