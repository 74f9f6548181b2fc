// Package ratelimit tracks per-provider, per-account call quotas and
// rotates tickers across accounts to multiply effective throughput.
//
// The tracker is an injectable component instance: callers own it and pass
// it by reference, there is no package-level singleton. All mutation happens
// under a single lock per (provider, account) pair, and the check-then-
// increment on RecordCall is atomic relative to other workers on the same
// account.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AccountQuota configures one credential set for a provider.
type AccountQuota struct {
	Name      string
	PerMinute int // 0 = no per-minute limit
	PerDay    int // 0 = no daily limit
}

// QuotaStatus is a read-only snapshot of one account's quota state, used
// for persistence across runs and for the status API.
type QuotaStatus struct {
	Provider       string    `json:"provider"`
	Account        string    `json:"account"`
	DayUsed        int       `json:"day_used"`
	DayLimit       int       `json:"day_limit"`
	DayWindowStart time.Time `json:"day_window_start"`
	ThrottledUntil time.Time `json:"throttled_until,omitempty"`
}

// accountState holds the mutable quota state for one (provider, account).
type accountState struct {
	mu             sync.Mutex
	name           string
	minuteLimiter  *rate.Limiter // nil when no per-minute limit
	dayUsed        int
	dayLimit       int
	dayWindowStart time.Time
	throttledUntil time.Time
}

// providerState holds the accounts of one provider plus the round-robin
// rotation cursor.
type providerState struct {
	mu       sync.Mutex
	accounts []*accountState
	byName   map[string]*accountState
	cursor   int
}

// Tracker decides whether a call to a (provider, account) may proceed now
// and records observed throttle responses.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	now       func() time.Time
	log       zerolog.Logger
}

// NewTracker creates an empty tracker. Providers are added via Register.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		providers: make(map[string]*providerState),
		now:       time.Now,
		log:       log.With().Str("component", "rate_limit_tracker").Logger(),
	}
}

// SetClock overrides the tracker's time source. Used in tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Register adds a provider with its account quotas. Calling Register twice
// for the same provider replaces its configuration and resets its state.
func (t *Tracker) Register(provider string, accounts []AccountQuota) {
	ps := &providerState{
		accounts: make([]*accountState, 0, len(accounts)),
		byName:   make(map[string]*accountState, len(accounts)),
	}

	windowStart := dayWindowStart(t.now())
	for _, a := range accounts {
		st := &accountState{
			name:           a.Name,
			dayLimit:       a.PerDay,
			dayWindowStart: windowStart,
		}
		if a.PerMinute > 0 {
			st.minuteLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(a.PerMinute)), a.PerMinute)
		}
		ps.accounts = append(ps.accounts, st)
		ps.byName[a.Name] = st
	}

	t.mu.Lock()
	t.providers[provider] = ps
	t.mu.Unlock()

	t.log.Debug().
		Str("provider", provider).
		Int("accounts", len(accounts)).
		Msg("Registered provider quotas")
}

// CanCall reports whether a call on (provider, account) may proceed now.
// This is advisory: a concurrent worker may consume the last slot between
// CanCall and RecordCall. RecordCall re-checks atomically.
func (t *Tracker) CanCall(provider, account string) bool {
	st := t.account(provider, account)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.canCallLocked(t.now())
}

// RecordCall reserves one call slot on (provider, account). It returns
// false without consuming anything when the account is exhausted or
// throttled; callers must not issue the provider request in that case.
func (t *Tracker) RecordCall(provider, account string) bool {
	return t.RecordCalls(provider, account, 1)
}

// RecordCalls reserves n call slots at once, for adapters whose single
// fetch issues several provider requests. All-or-nothing: either the full
// cost fits within the remaining daily quota or nothing is consumed. The
// check and the increment happen under the account lock, so concurrent
// workers can never push usage past the limit.
func (t *Tracker) RecordCalls(provider, account string, n int) bool {
	if n < 1 {
		n = 1
	}
	st := t.account(provider, account)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := t.now()
	if !st.canCallLocked(now) {
		return false
	}
	if st.dayLimit > 0 && st.dayUsed+n > st.dayLimit {
		return false
	}
	if st.minuteLimiter != nil {
		// The minute window charges up to its burst, so a fetch costing
		// more than the configured per-minute rate still stays schedulable
		// (it just drains the whole window).
		tokens := n
		if b := st.minuteLimiter.Burst(); tokens > b {
			tokens = b
		}
		if !st.minuteLimiter.AllowN(now, tokens) {
			return false
		}
	}
	st.dayUsed += n
	return true
}

// RecordThrottled marks the account unavailable until retryAfter elapses.
// The provider-reported signal takes precedence over local bookkeeping: the
// account may be throttled for reasons outside the tracker's knowledge,
// such as shared billing. A zero retryAfter falls back to one minute.
func (t *Tracker) RecordThrottled(provider, account string, retryAfter time.Duration) {
	st := t.account(provider, account)
	if st == nil {
		return
	}

	if retryAfter <= 0 {
		retryAfter = time.Minute
	}

	st.mu.Lock()
	until := t.now().Add(retryAfter)
	if until.After(st.throttledUntil) {
		st.throttledUntil = until
	}
	st.mu.Unlock()

	t.log.Warn().
		Str("provider", provider).
		Str("account", account).
		Dur("retry_after", retryAfter).
		Msg("Provider reported rate limit, parking account")
}

// NextAvailableAccount scans the provider's accounts round-robin and
// returns the first that can call now. The second return is false when
// every account is exhausted; the caller must defer or fall back to the
// next provider, never block.
func (t *Tracker) NextAvailableAccount(provider string) (string, bool) {
	t.mu.RLock()
	ps := t.providers[provider]
	t.mu.RUnlock()
	if ps == nil || len(ps.accounts) == 0 {
		return "", false
	}

	ps.mu.Lock()
	start := ps.cursor
	n := len(ps.accounts)
	ps.mu.Unlock()

	now := t.now()
	for i := 0; i < n; i++ {
		st := ps.accounts[(start+i)%n]

		st.mu.Lock()
		ok := st.canCallLocked(now)
		st.mu.Unlock()

		if ok {
			ps.mu.Lock()
			ps.cursor = (start + i + 1) % n
			ps.mu.Unlock()
			return st.name, true
		}
	}
	return "", false
}

// Snapshot returns the current quota state of every registered account.
func (t *Tracker) Snapshot() []QuotaStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var out []QuotaStatus
	for provider, ps := range t.providers {
		for _, st := range ps.accounts {
			st.mu.Lock()
			st.resetIfNewWindowLocked(now)
			out = append(out, QuotaStatus{
				Provider:       provider,
				Account:        st.name,
				DayUsed:        st.dayUsed,
				DayLimit:       st.dayLimit,
				DayWindowStart: st.dayWindowStart,
				ThrottledUntil: st.throttledUntil,
			})
			st.mu.Unlock()
		}
	}
	return out
}

// RestoreUsage seeds an account's daily usage from persisted state. Usage
// recorded in an earlier window is discarded: quota windows reset by
// wall-clock, not by process restart.
func (t *Tracker) RestoreUsage(provider, account string, used int, windowStart time.Time) {
	st := t.account(provider, account)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	current := dayWindowStart(t.now())
	if windowStart.Equal(current) {
		st.dayUsed = used
		st.dayWindowStart = windowStart
	}
}

func (t *Tracker) account(provider, account string) *accountState {
	t.mu.RLock()
	ps := t.providers[provider]
	t.mu.RUnlock()
	if ps == nil {
		return nil
	}
	return ps.byName[account]
}

// canCallLocked evaluates availability. Caller must hold st.mu.
func (st *accountState) canCallLocked(now time.Time) bool {
	st.resetIfNewWindowLocked(now)

	if now.Before(st.throttledUntil) {
		return false
	}
	if st.dayLimit > 0 && st.dayUsed >= st.dayLimit {
		return false
	}
	if st.minuteLimiter != nil && st.minuteLimiter.TokensAt(now) < 1 {
		return false
	}
	return true
}

// resetIfNewWindowLocked rolls the daily counter when the wall clock has
// crossed the window boundary. Caller must hold st.mu.
func (st *accountState) resetIfNewWindowLocked(now time.Time) {
	current := dayWindowStart(now)
	if current.After(st.dayWindowStart) {
		st.dayUsed = 0
		st.dayWindowStart = current
	}
}

// dayWindowStart returns midnight UTC of the day containing now.
func dayWindowStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
