package usage

import (
	"sort"
	"sync"
	"time"

	"conductor/internal/shared/logging"
)

const (
	// UnseenScore is returned for a backend/model pair with no recorded calls.
	UnseenScore = 100

	minThrottledScore = 1
	maxThrottledScore = 10

	quotaWeight       = 80
	maxRecencyBonus   = 20
	recencyStepSecond = 30
	throttleStepSecs  = 30
)

// Key identifies one backend/model pair.
type Key struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// Record is the ledger's quota view of one backend/model pair.
type Record struct {
	Remaining      int       `json:"remaining"`
	Limit          int       `json:"limit"`
	HasQuota       bool      `json:"hasQuota"`
	ResetAt        time.Time `json:"resetAt,omitempty"`
	LastUsedAt     time.Time `json:"lastUsedAt"`
	TotalCalls     int       `json:"totalCalls"`
	Throttled      bool      `json:"throttled"`
	ThrottledUntil time.Time `json:"throttledUntil,omitempty"`
}

// Entry pairs a record with its key and current score.
type Entry struct {
	Key
	Record
	Score int `json:"score"`
}

// Candidate is one backend/model option offered to Rank.
type Candidate struct {
	Backend string
	Model   string
}

// Ranked is a candidate annotated with its score.
type Ranked struct {
	Candidate
	Score int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Ledger) { l.logger = logging.OrNop(logger) }
}

// Ledger is the process-wide source of truth for backend quota state.
// All mutations happen under a single mutex and never span an external call.
type Ledger struct {
	mu      sync.Mutex
	records map[Key]*Record
	now     func() time.Time
	logger  logging.Logger
}

// NewLedger constructs an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[Key]*Record),
		now:     time.Now,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordOutcome folds one call's signal into the pair's record and returns the
// updated copy.
func (l *Ledger) RecordOutcome(backend, model string, sig Signal) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := Key{Backend: backend, Model: model}
	rec, ok := l.records[key]
	if !ok {
		rec = &Record{}
		l.records[key] = rec
	}
	refresh(rec, now)

	rec.TotalCalls++
	rec.LastUsedAt = now

	if sig.Limit != nil {
		rec.Limit = *sig.Limit
		rec.HasQuota = true
	}
	if sig.Remaining != nil {
		rec.Remaining = *sig.Remaining
		rec.HasQuota = true
		if rec.Limit < rec.Remaining {
			rec.Limit = rec.Remaining
		}
	}
	if sig.ResetAt != nil {
		rec.ResetAt = *sig.ResetAt
	}

	switch {
	case sig.RetryAfterSeconds != nil && *sig.RetryAfterSeconds > 0:
		rec.Throttled = true
		rec.ThrottledUntil = now.Add(time.Duration(*sig.RetryAfterSeconds) * time.Second)
	case rec.HasQuota && rec.Remaining <= 0 && rec.ResetAt.After(now):
		rec.Throttled = true
		rec.ThrottledUntil = rec.ResetAt
	}
	if rec.Throttled {
		l.logger.Debug("backend %s/%s throttled until %s", backend, model, rec.ThrottledUntil.Format(time.RFC3339))
	}
	return *rec
}

// Score returns the selection priority of a pair. Higher means prefer now.
func (l *Ledger) Score(backend, model string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scoreLocked(Key{Backend: backend, Model: model}, l.now())
}

// Rank orders candidates by score descending. Equal scores keep input order.
func (l *Ledger) Rank(candidates []Candidate) []Ranked {
	l.mu.Lock()
	now := l.now()
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Candidate: c, Score: l.scoreLocked(Key{Backend: c.Backend, Model: c.Model}, now)}
	}
	l.mu.Unlock()

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// Lookup returns a copy of the pair's record after expiry is applied.
func (l *Ledger) Lookup(backend, model string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[Key{Backend: backend, Model: model}]
	if !ok {
		return Record{}, false
	}
	refresh(rec, l.now())
	return *rec, true
}

// Snapshot returns every record with its current score, sorted by key.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entries := make([]Entry, 0, len(l.records))
	for key, rec := range l.records {
		score := l.scoreLocked(key, now)
		entries = append(entries, Entry{Key: key, Record: *rec, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Backend != entries[j].Backend {
			return entries[i].Backend < entries[j].Backend
		}
		return entries[i].Model < entries[j].Model
	})
	return entries
}

func (l *Ledger) scoreLocked(key Key, now time.Time) int {
	rec, ok := l.records[key]
	if !ok {
		return UnseenScore
	}
	refresh(rec, now)
	if rec.Throttled {
		return throttledScore(deadline(rec), now)
	}

	quota := quotaWeight
	if rec.HasQuota && rec.Limit > 0 {
		remaining := rec.Remaining
		if remaining < 0 {
			remaining = 0
		}
		if remaining > rec.Limit {
			remaining = rec.Limit
		}
		quota = quotaWeight * remaining / rec.Limit
	}

	idle := int(now.Sub(rec.LastUsedAt).Seconds()) / recencyStepSecond
	if idle < 0 {
		idle = 0
	}
	if idle > maxRecencyBonus {
		idle = maxRecencyBonus
	}
	return quota + idle
}

// throttledScore maps time-until-available onto [1,10], sooner scoring higher.
func throttledScore(until, now time.Time) int {
	secs := int(until.Sub(now).Seconds())
	if secs < 0 {
		secs = 0
	}
	penalty := secs / throttleStepSecs
	if penalty > maxThrottledScore-minThrottledScore {
		penalty = maxThrottledScore - minThrottledScore
	}
	return maxThrottledScore - penalty
}

func deadline(rec *Record) time.Time {
	switch {
	case rec.ThrottledUntil.IsZero():
		return rec.ResetAt
	case rec.ResetAt.IsZero() || rec.ThrottledUntil.Before(rec.ResetAt):
		return rec.ThrottledUntil
	default:
		return rec.ResetAt
	}
}

// refresh clears an expired throttle and rolls over a passed quota window.
func refresh(rec *Record, now time.Time) {
	windowPassed := !rec.ResetAt.IsZero() && !now.Before(rec.ResetAt)
	if rec.Throttled {
		untilPassed := !rec.ThrottledUntil.IsZero() && !now.Before(rec.ThrottledUntil)
		if untilPassed || windowPassed || (rec.ThrottledUntil.IsZero() && rec.ResetAt.IsZero()) {
			rec.Throttled = false
			rec.ThrottledUntil = time.Time{}
		}
	}
	if windowPassed {
		if rec.HasQuota {
			rec.Remaining = rec.Limit
		}
		rec.ResetAt = time.Time{}
	}
}
