package selector

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func seeded(t *testing.T, opts ...Option) *Bandit {
	t.Helper()
	b := NewBandit(opts...)
	b.Seed(Arm{ID: "worker:a", Role: "worker", BackendName: "a"})
	b.Seed(Arm{ID: "worker:b", Role: "worker", BackendName: "b"})
	return b
}

func TestSelectArmNoArms(t *testing.T) {
	b := NewBandit()
	_, err := b.SelectArm("worker")
	var noArms *NoArmsAvailableError
	require.True(t, errors.As(err, &noArms))
	assert.Equal(t, "worker", noArms.Role)
}

func TestPureExploitationIsDeterministic(t *testing.T) {
	b := seeded(t, WithEpsilon(0))
	_, _ = b.Update("worker:a", 1)
	_, _ = b.Update("worker:a", 0)
	_, _ = b.Update("worker:b", 1)

	for i := 0; i < 50; i++ {
		arm, err := b.SelectArm("worker")
		require.NoError(t, err)
		assert.Equal(t, "worker:b", arm.ID)
	}
}

func TestTiesBreakByFirstSeen(t *testing.T) {
	b := seeded(t, WithEpsilon(0))
	arm, err := b.SelectArm("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker:a", arm.ID)

	_, _ = b.Update("worker:a", 0)
	arm, _ = b.SelectArm("worker")
	assert.Equal(t, "worker:a", arm.ID, "0/1 and 0/0 both rate 0")
}

func TestExplorationReachesEveryArm(t *testing.T) {
	b := seeded(t, WithEpsilon(1), WithSeed(7))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		arm, err := b.SelectArm("worker")
		require.NoError(t, err)
		seen[arm.ID] = true
	}
	assert.Len(t, seen, 2)
}

func TestUpdateBinarizesReward(t *testing.T) {
	b := seeded(t)
	arm, err := b.Update("worker:a", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, arm.Wins)
	arm, _ = b.Update("worker:a", 0.49)
	assert.Equal(t, 1, arm.Wins)
	assert.Equal(t, 2, arm.Plays)

	_, err = b.Update("missing", 1)
	assert.ErrorIs(t, err, ErrUnknownArm)
}

func TestSeedKeepsLearnedState(t *testing.T) {
	b := seeded(t)
	_, _ = b.Update("worker:a", 1)
	assert.False(t, b.Seed(Arm{ID: "worker:a", Role: "worker"}))
	assert.Equal(t, 1, b.Arms("worker")[0].Wins)
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	b := seeded(t, WithStore(store))
	_, _ = b.Update("worker:a", 1)
	_, _ = b.Update("worker:a", 0.2)
	_, _ = b.Update("worker:b", 0.9)
	assert.Equal(t, 3, store.Saves(), "state is written after every update")

	restored := NewBandit(WithStore(store), WithEpsilon(0))
	require.NoError(t, restored.Load())
	restored.Seed(Arm{ID: "worker:a", Role: "worker"})

	got := map[string]Arm{}
	for _, arm := range restored.Arms("worker") {
		got[arm.ID] = arm
	}
	assert.Equal(t, 1, got["worker:a"].Wins)
	assert.Equal(t, 2, got["worker:a"].Plays)
	assert.Equal(t, 1, got["worker:b"].Wins)
	assert.Equal(t, 1, got["worker:b"].Plays)
}

func TestLoadKeepsFirstSeenOrder(t *testing.T) {
	store := NewMemoryStore()
	b := NewBandit(WithStore(store), WithEpsilon(0))
	b.Seed(Arm{ID: "worker:auto", Role: "worker"})
	b.Seed(Arm{ID: "worker:alpha", Role: "worker", BackendName: "alpha"})
	b.Seed(Arm{ID: "lead:auto", Role: "lead"})
	_, err := b.Update("worker:alpha", 1)
	require.NoError(t, err)
	_, err = b.Update("worker:auto", 1)
	require.NoError(t, err)

	restored := NewBandit(WithStore(store), WithEpsilon(0))
	require.NoError(t, restored.Load())

	var ids []string
	for _, arm := range restored.Arms("worker") {
		ids = append(ids, arm.ID)
	}
	assert.Equal(t, []string{"worker:auto", "worker:alpha"}, ids)

	arm, err := restored.SelectArm("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker:auto", arm.ID, "equal ratios break toward the first-seen arm")

	assert.False(t, restored.Seed(Arm{ID: "worker:auto", Role: "worker"}))
	assert.True(t, restored.Seed(Arm{ID: "worker:beta", Role: "worker"}))
	last := restored.Arms("worker")[2]
	assert.Equal(t, "worker:beta", last.ID)
	assert.Equal(t, 2, last.Order)
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	b := seeded(t, WithStore(NewMemoryStore()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Update("worker:a", float64(i%2))
		}(i)
	}
	wg.Wait()
	arm := b.Arms("worker")[0]
	assert.Equal(t, 50, arm.Plays)
	assert.Equal(t, 25, arm.Wins)
}

func TestWinsNeverExceedPlaysProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBandit(WithEpsilon(rapid.Float64Range(0, 1).Draw(t, "epsilon")))
		ids := []string{"x", "y", "z"}
		for _, id := range ids {
			b.Seed(Arm{ID: id, Role: "r"})
		}
		plays := map[string]int{}
		n := rapid.IntRange(1, 100).Draw(t, "n")
		for i := 0; i < n; i++ {
			id := rapid.SampledFrom(ids).Draw(t, "arm")
			reward := rapid.Float64Range(0, 1).Draw(t, "reward")
			arm, err := b.Update(id, reward)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			plays[id]++
			if arm.Plays != plays[id] {
				t.Fatalf("plays %d, want %d", arm.Plays, plays[id])
			}
			if arm.Wins > arm.Plays {
				t.Fatalf("wins %d > plays %d", arm.Wins, arm.Plays)
			}
		}
	})
}
