package mana

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/coopmesh-project/coopmesh/pkg/lib/math"
)

type account struct {
	balance   uint64
	capacity  uint64
	regenRate uint64 // mana per second
	lastRegen time.Time
	mu        sync.Mutex
}

type hold struct {
	identity string
	amount   uint64
	open     bool
}

type InMemoryLedgerParams struct {
	// InitialBalance is the balance assigned to accounts created lazily on
	// first reference.
	InitialBalance uint64

	// Capacity is the maximum balance an account can regenerate up to.
	Capacity uint64

	// RegenerationRate is the mana credited per second by Regenerate.
	RegenerationRate uint64
}

// InMemoryLedger keeps per-identity balances with per-account serialization:
// operations touching the same account are serialized to prevent lost
// updates, while different accounts are updated concurrently. Every mutation
// is appended to an event log from which balances can be rebuilt by replay.
type InMemoryLedger struct {
	initialBalance uint64
	capacity       uint64
	regenRate      uint64

	accounts   map[string]*account
	accountsMu sync.RWMutex

	holds   map[string]*hold
	holdsMu sync.Mutex

	events   []Event
	eventsMu sync.Mutex

	clock clock.Clock
}

type Option func(*InMemoryLedger)

func WithClock(c clock.Clock) Option {
	return func(l *InMemoryLedger) {
		l.clock = c
	}
}

func NewInMemoryLedger(params InMemoryLedgerParams, opts ...Option) *InMemoryLedger {
	l := &InMemoryLedger{
		initialBalance: params.InitialBalance,
		capacity:       params.Capacity,
		regenRate:      params.RegenerationRate,
		accounts:       make(map[string]*account),
		holds:          make(map[string]*hold),
		clock:          clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// getAccount returns the identity's account, creating it lazily with the
// configured initial balance on first reference.
func (l *InMemoryLedger) getAccount(identity string) *account {
	l.accountsMu.RLock()
	acc, ok := l.accounts[identity]
	l.accountsMu.RUnlock()
	if ok {
		return acc
	}

	l.accountsMu.Lock()
	defer l.accountsMu.Unlock()
	if acc, ok = l.accounts[identity]; ok {
		return acc
	}
	acc = &account{
		balance:   l.initialBalance,
		capacity:  l.capacity,
		regenRate: l.regenRate,
		lastRegen: l.clock.Now(),
	}
	l.accounts[identity] = acc
	return acc
}

func (l *InMemoryLedger) Debit(identity string, amount uint64) error {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.balance < amount {
		return NewErrInsufficientBalance(identity, amount, acc.balance)
	}
	acc.balance -= amount
	l.appendEvent(Event{Kind: EventDebit, Identity: identity, Amount: amount})
	return nil
}

func (l *InMemoryLedger) Credit(identity string, amount uint64) error {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	l.creditLocked(acc, identity, amount, EventCredit)
	return nil
}

// creditLocked adds amount to an account the caller already holds the lock
// for, capping at capacity.
func (l *InMemoryLedger) creditLocked(acc *account, identity string, amount uint64, kind EventKind) {
	acc.balance = math.Min(acc.balance+amount, acc.capacity)
	l.appendEvent(Event{Kind: kind, Identity: identity, Amount: amount})
}

func (l *InMemoryLedger) Balance(identity string) uint64 {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance
}

// Regenerate credits every known account in proportion to the time elapsed
// since its last regeneration. Integer arithmetic only: the last-regen mark
// advances exactly by the time worth of the credited amount, so fractional
// credit carries forward and repeated calls with increasing now never
// double-credit an interval.
func (l *InMemoryLedger) Regenerate(now time.Time) {
	l.accountsMu.RLock()
	identities := make([]string, 0, len(l.accounts))
	for identity := range l.accounts {
		identities = append(identities, identity)
	}
	l.accountsMu.RUnlock()

	for _, identity := range identities {
		acc := l.getAccount(identity)
		acc.mu.Lock()
		l.regenerateLocked(acc, identity, now)
		acc.mu.Unlock()
	}
}

func (l *InMemoryLedger) regenerateLocked(acc *account, identity string, now time.Time) {
	if acc.regenRate == 0 || !now.After(acc.lastRegen) {
		return
	}
	elapsed := now.Sub(acc.lastRegen)
	credit := acc.regenRate * uint64(elapsed) / uint64(time.Second)
	if credit == 0 {
		return
	}
	if acc.balance >= acc.capacity {
		// full accounts don't accrue credit for the time spent at capacity
		acc.lastRegen = now
		return
	}
	credit = math.Min(credit, acc.capacity-acc.balance)
	acc.balance += credit
	acc.lastRegen = acc.lastRegen.Add(time.Duration(credit * uint64(time.Second) / acc.regenRate))
	l.appendEvent(Event{Kind: EventRegenerate, Identity: identity, Amount: credit})
}

func (l *InMemoryLedger) Hold(jobID string, identity string, amount uint64) error {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()
	if existing, ok := l.holds[jobID]; ok && existing.open {
		// a hold is opened at most once per job
		return nil
	}
	if err := l.Debit(identity, amount); err != nil {
		return err
	}
	l.holds[jobID] = &hold{identity: identity, amount: amount, open: true}
	l.appendEvent(Event{Kind: EventHold, Identity: identity, JobID: jobID, Amount: amount})
	return nil
}

func (l *InMemoryLedger) Release(jobID string) error {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()
	h, ok := l.holds[jobID]
	if !ok || !h.open {
		// idempotent: refunds are keyed by job ID and never double-credit
		return nil
	}
	h.open = false
	acc := l.getAccount(h.identity)
	acc.mu.Lock()
	l.creditLocked(acc, h.identity, h.amount, EventRelease)
	acc.mu.Unlock()
	return nil
}

func (l *InMemoryLedger) Settle(jobID string, executor string, price uint64) error {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()
	h, ok := l.holds[jobID]
	if !ok || !h.open {
		return nil
	}
	if price > h.amount {
		return ErrOverSettlement{JobID: jobID, Held: h.amount, Price: price}
	}
	h.open = false

	// the executor is credited the agreed price; the submitter is refunded
	// the difference between the committed maximum and that price
	executorAcc := l.getAccount(executor)
	executorAcc.mu.Lock()
	l.creditLocked(executorAcc, executor, price, EventSettle)
	executorAcc.mu.Unlock()

	if remainder := h.amount - price; remainder > 0 {
		holderAcc := l.getAccount(h.identity)
		holderAcc.mu.Lock()
		l.creditLocked(holderAcc, h.identity, remainder, EventSettle)
		holderAcc.mu.Unlock()
	}
	log.Debug().Str("JobID", jobID).Uint64("Price", price).Uint64("Held", h.amount).
		Msg("settled mana commitment")
	return nil
}

func (l *InMemoryLedger) HoldActive(jobID string) bool {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()
	h, ok := l.holds[jobID]
	return ok && h.open
}

func (l *InMemoryLedger) appendEvent(e Event) {
	e.EventTime = l.clock.Now()
	l.eventsMu.Lock()
	l.events = append(l.events, e)
	l.eventsMu.Unlock()
}

// Events returns a copy of the append-only event log.
func (l *InMemoryLedger) Events() []Event {
	l.eventsMu.Lock()
	defer l.eventsMu.Unlock()
	return append([]Event(nil), l.events...)
}

// compile-time interface check
var _ Ledger = (*InMemoryLedger)(nil)
