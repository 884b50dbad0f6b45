package selector

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"conductor/internal/shared/logging"
)

// Option configures a Bandit.
type Option func(*Bandit)

// WithEpsilon sets the exploration probability, clamped to [0,1].
func WithEpsilon(epsilon float64) Option {
	return func(b *Bandit) {
		switch {
		case epsilon < 0:
			epsilon = 0
		case epsilon > 1:
			epsilon = 1
		}
		b.epsilon = epsilon
	}
}

// WithSeed makes exploration draws reproducible.
func WithSeed(seed uint64) Option {
	return func(b *Bandit) { b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithStore enables write-through persistence.
func WithStore(store Store) Option {
	return func(b *Bandit) { b.store = store }
}

// WithLogger sets the bandit logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bandit) { b.logger = logging.OrNop(logger) }
}

// Bandit is a process-wide epsilon-greedy selector.
type Bandit struct {
	mu      sync.Mutex
	epsilon float64
	rng     *rand.Rand
	arms    map[string]*Arm
	byRole  map[string][]string
	version uint64

	persistMu sync.Mutex
	persisted uint64
	store     Store
	logger    logging.Logger
}

// NewBandit constructs a bandit with no arms.
func NewBandit(opts ...Option) *Bandit {
	seed := uint64(time.Now().UnixNano())
	b := &Bandit{
		epsilon: DefaultEpsilon,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		arms:    make(map[string]*Arm),
		byRole:  make(map[string][]string),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Epsilon returns the configured exploration probability.
func (b *Bandit) Epsilon() float64 {
	return b.epsilon
}

// Load restores persisted arm state. Loaded arms are registered in id order.
func (b *Bandit) Load() error {
	if b.store == nil {
		return nil
	}
	loaded, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("load arm state: %w", err)
	}
	arms := make([]Arm, 0, len(loaded))
	for id, arm := range loaded {
		arm.ID = id
		arms = append(arms, arm)
	}
	// Replays the persisted first-seen order; files without it fall back to id order.
	sort.Slice(arms, func(i, j int) bool {
		if arms[i].Role != arms[j].Role {
			return arms[i].Role < arms[j].Role
		}
		if arms[i].Order != arms[j].Order {
			return arms[i].Order < arms[j].Order
		}
		return arms[i].ID < arms[j].ID
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, arm := range arms {
		id := arm.ID
		if arm.Wins > arm.Plays {
			arm.Wins = arm.Plays
		}
		if existing, ok := b.arms[id]; ok {
			existing.Wins, existing.Plays = arm.Wins, arm.Plays
			continue
		}
		b.addLocked(arm)
	}
	b.logger.Info("loaded %d arms", len(arms))
	return nil
}

// Seed registers arm if its id is new and reports whether it was added.
// Existing arms keep their learned wins and plays.
func (b *Bandit) Seed(arm Arm) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.arms[arm.ID]; ok {
		return false
	}
	arm.Wins, arm.Plays = 0, 0
	b.addLocked(arm)
	return true
}

func (b *Bandit) addLocked(arm Arm) {
	a := arm
	a.Order = len(b.byRole[arm.Role])
	b.arms[arm.ID] = &a
	b.byRole[arm.Role] = append(b.byRole[arm.Role], arm.ID)
}

// SelectArm returns one arm for role.
func (b *Bandit) SelectArm(role string) (Arm, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.byRole[role]
	if len(ids) == 0 {
		return Arm{}, &NoArmsAvailableError{Role: role}
	}
	if b.rng.Float64() < b.epsilon {
		return *b.arms[ids[b.rng.IntN(len(ids))]], nil
	}
	best := b.arms[ids[0]]
	for _, id := range ids[1:] {
		if arm := b.arms[id]; arm.Ratio() > best.Ratio() {
			best = arm
		}
	}
	return *best, nil
}

// Update records one play of armID. reward >= WinThreshold counts as a win.
// The new state is written through to the store before Update returns.
func (b *Bandit) Update(armID string, reward float64) (Arm, error) {
	b.mu.Lock()
	arm, ok := b.arms[armID]
	if !ok {
		b.mu.Unlock()
		return Arm{}, fmt.Errorf("%w: %s", ErrUnknownArm, armID)
	}
	arm.Plays++
	if reward >= WinThreshold {
		arm.Wins++
	}
	updated := *arm
	b.version++
	version := b.version
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	b.persist(version, snapshot)
	return updated, nil
}

func (b *Bandit) persist(version uint64, snapshot map[string]Arm) {
	if b.store == nil {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()
	if version <= b.persisted {
		return
	}
	if err := b.store.Save(snapshot); err != nil {
		b.logger.Warn("persist arm state failed: %v", err)
		return
	}
	b.persisted = version
}

// Flush writes the current state regardless of pending updates.
func (b *Bandit) Flush() error {
	if b.store == nil {
		return nil
	}
	b.mu.Lock()
	snapshot := b.snapshotLocked()
	version := b.version
	b.mu.Unlock()

	b.persistMu.Lock()
	defer b.persistMu.Unlock()
	if err := b.store.Save(snapshot); err != nil {
		return fmt.Errorf("flush arm state: %w", err)
	}
	if version > b.persisted {
		b.persisted = version
	}
	return nil
}

func (b *Bandit) snapshotLocked() map[string]Arm {
	out := make(map[string]Arm, len(b.arms))
	for id, arm := range b.arms {
		out[id] = *arm
	}
	return out
}

// Arms returns arms for role in first-seen order. An empty role returns all arms.
func (b *Bandit) Arms(role string) []Arm {
	b.mu.Lock()
	defer b.mu.Unlock()
	var roles []string
	if role != "" {
		roles = []string{role}
	} else {
		for r := range b.byRole {
			roles = append(roles, r)
		}
		sort.Strings(roles)
	}
	var out []Arm
	for _, r := range roles {
		for _, id := range b.byRole[r] {
			out = append(out, *b.arms[id])
		}
	}
	return out
}

// Roles returns every role with at least one arm.
func (b *Bandit) Roles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	roles := make([]string, 0, len(b.byRole))
	for r := range b.byRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	arms  map[string]Arm
	saves int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{arms: map[string]Arm{}}
}

func (m *MemoryStore) Load() (map[string]Arm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Arm, len(m.arms))
	for k, v := range m.arms {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Save(arms map[string]Arm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arms = make(map[string]Arm, len(arms))
	for k, v := range arms {
		m.arms[k] = v
	}
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
