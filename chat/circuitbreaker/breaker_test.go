package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Cooldown)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Nil(t, cfg.OnStateChange)
}

func TestNewBreakerNormalizesConfig(t *testing.T) {
	tests := []struct {
		name          string
		cfg           *Config
		wantThreshold int
		wantCooldown  time.Duration
		wantSuccesses int
	}{
		{
			name:          "nil config uses defaults",
			cfg:           nil,
			wantThreshold: 5,
			wantCooldown:  60 * time.Second,
			wantSuccesses: 2,
		},
		{
			name:          "zero values corrected to defaults",
			cfg:           &Config{FailureThreshold: 0, Cooldown: 0, SuccessThreshold: -1},
			wantThreshold: 5,
			wantCooldown:  60 * time.Second,
			wantSuccesses: 2,
		},
		{
			name:          "custom values preserved",
			cfg:           &Config{FailureThreshold: 3, Cooldown: 10 * time.Second, SuccessThreshold: 1},
			wantThreshold: 3,
			wantCooldown:  10 * time.Second,
			wantSuccesses: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBreaker("agent-a", tt.cfg, zap.NewNop())
			assert.Equal(t, tt.wantThreshold, b.config.FailureThreshold)
			assert.Equal(t, tt.wantCooldown, b.config.Cooldown)
			assert.Equal(t, tt.wantSuccesses, b.config.SuccessThreshold)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func newTestBreaker(t *testing.T, cfg *Config) (*Breaker, *time.Time) {
	t.Helper()
	b := NewBreaker("agent-x", cfg, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, &Config{FailureThreshold: 5, Cooldown: time.Minute, SuccessThreshold: 2})

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State(), "failure %d must not open yet", i+1)
	}
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// Sixth call fails fast, no network attempt.
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, &Config{FailureThreshold: 3, Cooldown: time.Minute, SuccessThreshold: 2})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(t, &Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// Cooldown not yet elapsed.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenRecoversAfterSuccessThreshold(t *testing.T) {
	b, now := newTestBreaker(t, &Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2})

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "one success must not close yet")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopensAndRestartsCooldown(t *testing.T) {
	b, now := newTestBreaker(t, &Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2})

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// The cooldown restarted at the trial failure.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	*now = now.Add(31 * time.Second)
	assert.NoError(t, b.Allow())
}

// Open never transitions directly to Closed; the observed sequence always
// passes through HalfOpen.
func TestBreakerNeverOpenToClosedDirectly(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]State
	cfg := &Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		SuccessThreshold: 1,
		OnStateChange: func(agentID string, from, to State) {
			mu.Lock()
			transitions = append(transitions, [2]State{from, to})
			mu.Unlock()
		},
	}
	b, now := newTestBreaker(t, cfg)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())

	// Callbacks run on their own goroutines.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, tr := range transitions {
		assert.False(t, tr[0] == StateOpen && tr[1] == StateClosed,
			"open must never transition directly to closed")
	}
}

// Concurrent failures must never under-count: with N goroutines each
// reporting one failure, the breaker must be open afterwards.
func TestBreakerConcurrentFailures(t *testing.T) {
	b, _ := newTestBreaker(t, &Config{FailureThreshold: 50, Cooldown: time.Minute, SuccessThreshold: 2})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, b.State())
	_, failures, _ := b.Snapshot()
	assert.Equal(t, 50, failures)
}

func TestBreakerDo(t *testing.T) {
	b, _ := newTestBreaker(t, &Config{FailureThreshold: 2, Cooldown: time.Minute, SuccessThreshold: 2})

	sentinel := errors.New("upstream down")
	require.ErrorIs(t, b.Do(func() error { return sentinel }), sentinel)
	require.ErrorIs(t, b.Do(func() error { return sentinel }), sentinel)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrCircuitOpen)
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t, &Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2})
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestGroupLazyCreationAndIsolation(t *testing.T) {
	g := NewGroup(&Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2}, zap.NewNop())

	a := g.Get("agent-a")
	assert.Same(t, a, g.Get("agent-a"))

	a.RecordFailure()
	assert.Equal(t, StateOpen, g.Get("agent-a").State())
	assert.Equal(t, StateClosed, g.Get("agent-b").State())

	states := g.States()
	assert.Equal(t, StateOpen, states["agent-a"])
	assert.Equal(t, StateClosed, states["agent-b"])
}

func TestGroupConcurrentGet(t *testing.T) {
	g := NewGroup(nil, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]*Breaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		assert.Same(t, results[0], results[i])
	}
}
