// Package ledger is the per-category budget authority. It is the only shared
// mutable state touched by concurrent executions, so every operation is
// serialized per category and never across categories.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
)

// Reservation is a provisional hold against one category's budget.
// It is returned by TryReserve and handed back to Commit or Release.
type Reservation struct {
	Category domain.Category
	Amount   domain.Amount
	epoch    uint64
}

type account struct {
	mu    sync.Mutex
	alloc domain.Allocation
	base  domain.Amount
	// epoch advances on every reset so reservations taken before a reset
	// cannot be committed against the new day's balance.
	epoch uint64
}

// Ledger tracks spend against a daily limit for a fixed set of categories.
type Ledger struct {
	accounts map[domain.Category]*account
	resetAt  time.Duration
	loc      *time.Location
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithResetTime sets the time of day, as an offset from midnight, at which
// spend resets. The default is midnight.
func WithResetTime(offset time.Duration) Option {
	return func(l *Ledger) { l.resetAt = offset }
}

// WithLocation sets the time zone used to compute reset boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// New creates a ledger with one account per category. The category set is
// fixed for the lifetime of the ledger.
func New(limits map[domain.Category]domain.Amount, now time.Time, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		accounts: make(map[domain.Category]*account, len(limits)),
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resetAt < 0 || l.resetAt >= 24*time.Hour {
		return nil, domain.Detail(domain.ErrInvalidAmount, "reset time %s outside a day", l.resetAt)
	}

	next := l.nextReset(now)
	for cat, limit := range limits {
		if cat == "" {
			return nil, domain.Detail(domain.ErrUnknownCategory, "empty category name")
		}
		if limit < 0 {
			return nil, domain.Detail(domain.ErrInvalidAmount, "negative daily limit %d for %s", limit, cat)
		}
		l.accounts[cat] = &account{
			base: limit,
			alloc: domain.Allocation{
				Category:   cat,
				DailyLimit: limit,
				ResetAt:    next,
			},
		}
	}
	return l, nil
}

// nextReset returns the first reset boundary strictly after now.
func (l *Ledger) nextReset(now time.Time) time.Time {
	local := now.In(l.loc)
	y, m, d := local.Date()
	at := time.Date(y, m, d, 0, 0, 0, 0, l.loc).Add(l.resetAt)
	for !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func (l *Ledger) account(cat domain.Category) (*account, error) {
	acc, ok := l.accounts[cat]
	if !ok {
		return nil, domain.Detail(domain.ErrUnknownCategory, "%q", cat)
	}
	return acc, nil
}

// Categories returns the ledger's categories in sorted order.
func (l *Ledger) Categories() []domain.Category {
	cats := make([]domain.Category, 0, len(l.accounts))
	for cat := range l.accounts {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Has reports whether cat is a known category.
func (l *Ledger) Has(cat domain.Category) bool {
	_, ok := l.accounts[cat]
	return ok
}

// TryReserve atomically moves amount from available to reserved. Either the
// whole amount is reserved or nothing changes. remaining is the available
// balance after the call.
func (l *Ledger) TryReserve(cat domain.Category, amount domain.Amount) (Reservation, bool, domain.Amount, error) {
	acc, err := l.account(cat)
	if err != nil {
		return Reservation{}, false, 0, err
	}
	if amount < 0 {
		return Reservation{}, false, 0, domain.Detail(domain.ErrInvalidAmount, "reserve %d", amount)
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	avail := acc.alloc.Available()
	if amount > avail {
		return Reservation{}, false, avail, nil
	}
	acc.alloc.Reserved += amount
	return Reservation{Category: cat, Amount: amount, epoch: acc.epoch}, true, avail - amount, nil
}

// Commit releases the reservation and debits actual. When actual is below the
// reservation the difference returns to available. When it is above, the
// overage is taken from available if it fits; otherwise only the reserved
// portion is debited and ErrLedgerInvariant is returned.
//
// A reservation taken before a daily reset cannot be charged to either day;
// Commit returns ErrReservationStale and debits nothing.
func (l *Ledger) Commit(res Reservation, actual domain.Amount) error {
	acc, err := l.account(res.Category)
	if err != nil {
		return err
	}
	if actual < 0 || res.Amount < 0 {
		return domain.Detail(domain.ErrInvalidAmount, "commit reserved=%d actual=%d", res.Amount, actual)
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if res.epoch != acc.epoch {
		return domain.Detail(domain.ErrReservationStale,
			"%s: reset since reservation, actual cost %d not charged", res.Category, actual)
	}
	if res.Amount > acc.alloc.Reserved {
		return domain.Detail(domain.ErrLedgerInvariant,
			"%s: commit of reservation %d exceeds reserved balance %d", res.Category, res.Amount, acc.alloc.Reserved)
	}

	acc.alloc.Reserved -= res.Amount
	if actual <= res.Amount {
		acc.alloc.Spent += actual
		return nil
	}

	overage := actual - res.Amount
	if overage <= acc.alloc.Available() {
		acc.alloc.Spent += actual
		return nil
	}
	acc.alloc.Spent += res.Amount
	return domain.Detail(domain.ErrLedgerInvariant,
		"%s: actual cost %d exceeds reservation %d and available balance", res.Category, actual, res.Amount)
}

// Release returns a reservation to available without debiting anything.
func (l *Ledger) Release(res Reservation) error {
	acc, err := l.account(res.Category)
	if err != nil {
		return err
	}
	if res.Amount < 0 {
		return domain.Detail(domain.ErrInvalidAmount, "release %d", res.Amount)
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if res.epoch != acc.epoch {
		return nil
	}
	if res.Amount > acc.alloc.Reserved {
		return domain.Detail(domain.ErrLedgerInvariant,
			"%s: release of %d exceeds reserved balance %d", res.Category, res.Amount, acc.alloc.Reserved)
	}
	acc.alloc.Reserved -= res.Amount
	return nil
}

// Adjust changes a category's daily limit by delta for the current day. The
// adjustment is rejected if the new limit would fall below what is already
// spent or reserved. The configured base limit is restored at the next reset.
func (l *Ledger) Adjust(cat domain.Category, delta domain.Amount) (domain.Allocation, error) {
	acc, err := l.account(cat)
	if err != nil {
		return domain.Allocation{}, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	limit := acc.alloc.DailyLimit + delta
	if limit < 0 || limit < acc.alloc.Spent+acc.alloc.Reserved {
		return acc.alloc, domain.Detail(domain.ErrInvalidAmount,
			"%s: limit %d would fall below committed %d", cat, limit, acc.alloc.Spent+acc.alloc.Reserved)
	}
	acc.alloc.DailyLimit = limit
	return acc.alloc, nil
}

// ResetDue zeroes spend and reservations for every category whose reset
// boundary is at or before now, advances its boundary past now, and returns
// the categories that were reset.
func (l *Ledger) ResetDue(now time.Time) []domain.Category {
	var reset []domain.Category
	for _, cat := range l.Categories() {
		acc := l.accounts[cat]
		acc.mu.Lock()
		if !acc.alloc.ResetAt.After(now) {
			acc.alloc.Spent = 0
			acc.alloc.Reserved = 0
			acc.alloc.DailyLimit = acc.base
			for !acc.alloc.ResetAt.After(now) {
				acc.alloc.ResetAt = acc.alloc.ResetAt.AddDate(0, 0, 1)
			}
			acc.epoch++
			reset = append(reset, cat)
		}
		acc.mu.Unlock()
	}
	return reset
}

// Allocation returns a copy of one category's budget state.
func (l *Ledger) Allocation(cat domain.Category) (domain.Allocation, error) {
	acc, err := l.account(cat)
	if err != nil {
		return domain.Allocation{}, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.alloc, nil
}

// Allocations returns a copy of every category's budget state, sorted by category.
func (l *Ledger) Allocations() []domain.Allocation {
	cats := l.Categories()
	out := make([]domain.Allocation, 0, len(cats))
	for _, cat := range cats {
		acc := l.accounts[cat]
		acc.mu.Lock()
		out = append(out, acc.alloc)
		acc.mu.Unlock()
	}
	return out
}

// Check verifies spent + reserved <= daily_limit for every category.
func (l *Ledger) Check() error {
	for _, a := range l.Allocations() {
		if a.Spent < 0 || a.Reserved < 0 || a.Spent+a.Reserved > a.DailyLimit {
			return domain.Detail(domain.ErrLedgerInvariant,
				"%s: spent=%d reserved=%d limit=%d", a.Category, a.Spent, a.Reserved, a.DailyLimit)
		}
	}
	return nil
}

// Snapshot returns a copy of every allocation for persistence.
func (l *Ledger) Snapshot(now time.Time) domain.LedgerSnapshot {
	return domain.LedgerSnapshot{TakenAt: now, Allocations: l.Allocations()}
}

// Restore overwrites allocations from a snapshot. Categories in the snapshot
// that the ledger does not know are rejected; categories missing from the
// snapshot keep their current state. Outstanding reservations are invalidated.
func (l *Ledger) Restore(snap domain.LedgerSnapshot) error {
	for _, a := range snap.Allocations {
		if _, ok := l.accounts[a.Category]; !ok {
			return domain.Detail(domain.ErrRecoveryFailed, "unknown category %q in snapshot", a.Category)
		}
		if a.Spent < 0 || a.Reserved < 0 || a.DailyLimit < 0 || a.Spent+a.Reserved > a.DailyLimit {
			return domain.Detail(domain.ErrRecoveryFailed,
				"%s: snapshot violates budget invariant (spent=%d reserved=%d limit=%d)",
				a.Category, a.Spent, a.Reserved, a.DailyLimit)
		}
	}
	for _, a := range snap.Allocations {
		acc := l.accounts[a.Category]
		acc.mu.Lock()
		acc.alloc = a
		acc.epoch++
		acc.mu.Unlock()
	}
	return nil
}

// DropReservations zeroes every reserved balance. It is used after restoring
// a snapshot at startup, when no execution from the previous process survives.
func (l *Ledger) DropReservations() {
	for _, acc := range l.accounts {
		acc.mu.Lock()
		acc.alloc.Reserved = 0
		acc.epoch++
		acc.mu.Unlock()
	}
}
