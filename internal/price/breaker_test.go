package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/external"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(3, 5*time.Minute).WithClock(clock.now)

	b.RecordRateLimited()
	b.RecordRateLimited()
	assert.True(t, b.Allow())
	assert.True(t, b.OpenUntil().IsZero())

	b.RecordRateLimited()
	assert.False(t, b.Allow())
	assert.Equal(t, clock.t.Add(5*time.Minute), b.OpenUntil())
	assert.Equal(t, 3, b.Consecutive())

	clock.advance(5 * time.Minute)
	assert.True(t, b.Allow())
	assert.True(t, b.OpenUntil().IsZero())
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.RecordRateLimited()
	b.RecordRateLimited()
	b.RecordSuccess()
	b.RecordRateLimited()
	assert.True(t, b.Allow())
	assert.Equal(t, 1, b.Consecutive())
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0)
	assert.Equal(t, DefaultBreakerThreshold, b.threshold)
	assert.Equal(t, DefaultBreakerCooldown, b.cooldown)
}

// Three 429 answers open the circuit; the next lookup makes no HTTP call and
// is unavailable; after the cooldown a successful call closes it again.
func TestOracleCircuitSuppressesCalls(t *testing.T) {
	var hits atomic.Int32
	var limited atomic.Bool
	limited.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if limited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"market_data":{"current_price":{"eur":30000}}}`))
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	breaker := NewBreaker(3, 5*time.Minute).WithClock(clock.now)
	client := external.NewCoinGeckoClient(srv.URL, external.WithRatePerMinute(0))
	repo := newMockRepo()
	o := NewOracle(repo, client, breaker, true)
	o.now = clock.now
	ctx := context.Background()

	for i, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := o.Price(ctx, btc(), day(d))
		require.ErrorIs(t, err, domain.ErrPriceUnavailable, "call %d", i)
	}
	require.EqualValues(t, 3, hits.Load())
	require.False(t, breaker.Allow())

	_, err := o.Price(ctx, btc(), day("2024-01-04"))
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.ErrorIs(t, err, domain.ErrUpstreamRateLimited)
	assert.EqualValues(t, 3, hits.Load(), "open circuit must not reach the API")

	limited.Store(false)
	clock.advance(5 * time.Minute)
	p, err := o.Price(ctx, btc(), day("2024-01-04"))
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("30000")))
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, 0, breaker.Consecutive())

	snap, ok := repo.snapshot(2, "2024-01-04")
	require.True(t, ok)
	assert.Equal(t, domain.SourceCoinGecko, snap.Source)
}

func TestOracleTransientErrorLeavesCounter(t *testing.T) {
	f := &mockFetcher{err: domain.ErrUpstreamTransient}
	b := NewBreaker(3, time.Minute)
	b.RecordRateLimited()
	o := NewOracle(newMockRepo(), f, b, true)

	_, err := o.Price(context.Background(), btc(), day("2023-05-05"))
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Equal(t, 1, b.Consecutive())
}
