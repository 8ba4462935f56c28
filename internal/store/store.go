package store

import (
	"mrpulse.app/dashboard/core/db"
)

// Stores hands out stores sharing one Querier, either the pool or a
// transaction.
type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.q)
}

func (s *Stores) Subscriptions() SubscriptionStore {
	return newSubscriptionStore(s.q)
}
