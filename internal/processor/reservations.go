package processor

import (
	"sync"

	"github.com/shopspring/decimal"
)

// reservationTable holds amounts promised to in-flight transfers, per sender
// account, between the balance check and the ledger mutation.
type reservationTable struct {
	mu   sync.Mutex
	held map[string]decimal.Decimal
}

func newReservationTable() *reservationTable {
	return &reservationTable{held: make(map[string]decimal.Decimal)}
}

// reserve claims amount against balance. It returns the unreserved balance
// and whether the claim fit inside it.
func (r *reservationTable) reserve(accountID string, balance, amount decimal.Decimal) (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := balance.Sub(r.held[accountID])
	if available.LessThan(amount) {
		return available, false
	}
	r.held[accountID] = r.held[accountID].Add(amount)
	return available, true
}

func (r *reservationTable) release(accountID string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.held[accountID].Sub(amount)
	if !remaining.IsPositive() {
		delete(r.held, accountID)
		return
	}
	r.held[accountID] = remaining
}

func (r *reservationTable) reserved(accountID string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[accountID]
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
