package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCanonical() Canonical {
	return Canonical{
		Name: "test",
		Buckets: []Bucket{
			{Name: "weight", Window: 60 * time.Second, Capacity: 1200},
		},
		Endpoints: EndpointTable{
			"GET /order": {{Bucket: "weight", Cost: 1}},
		},
	}
}

// fakeClock lets tests advance time deterministically and makes the
// sleeper resolve instantly by just observing the requested wait, so a
// 60-second rate-limit window can be tested without an actual 60-second
// wait.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestThrottlerConservation(t *testing.T) {
	// Capacity 1200 per 60s, 2000 acquires of weight 1 arrive
	// "concurrently" at t=0. At most 1200 complete (are admitted with
	// wait==0) within the first window; the rest queue into the next
	// window.
	clock := &fakeClock{now: time.Unix(0, 0)}
	var delayed int
	tr := New(testCanonical()).WithClock(clock.Now).WithSleeper(func(ctx context.Context, d time.Duration) error {
		delayed++ // Acquire only sleeps for a positive wait; don't actually sleep
		return nil
	})

	var immediatelyAdmitted int
	for i := 0; i < 2000; i++ {
		before := delayed
		_, err := tr.Acquire(context.Background(), "GET /order", "acct")
		require.NoError(t, err)
		if delayed == before {
			immediatelyAdmitted++
		}
	}
	assert.Equal(t, 1200, immediatelyAdmitted)

	// With the first window full, the bucket's next free unit lies in a
	// later window, not now.
	qt := tr.QueryTime(clock.Now())
	assert.True(t, qt["weight"].After(clock.Now()))
}

func TestThrottlerFIFOAdmission(t *testing.T) {
	// Completion order of Acquire calls matches arrival order. With a
	// single-threaded caller issuing sequential
	// Acquire calls, arrival order is trivially preserved by the
	// serialised admission computation; this test pins that the Nth call
	// is never admitted earlier than the (N-1)th.
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := New(testCanonical()).WithClock(clock.Now).WithSleeper(func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	})

	var admitTimes []time.Time
	for i := 0; i < 5; i++ {
		_, err := tr.Acquire(context.Background(), "GET /order", "acct")
		require.NoError(t, err)
		admitTimes = append(admitTimes, clock.Now())
	}
	for i := 1; i < len(admitTimes); i++ {
		assert.False(t, admitTimes[i].Before(admitTimes[i-1]))
	}
}

func TestThrottlerBackoffHintReservesBucket(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var slept time.Duration
	tr := New(testCanonical()).WithClock(clock.Now).WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = d
		clock.Advance(d)
		return nil
	})

	tr.OnBackoffHint("weight", 30*time.Second)
	_, err := tr.Acquire(context.Background(), "GET /order", "acct")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, slept)
}

func TestThrottlerRecordResponseHeadersClampsUpwardOnly(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := New(testCanonical()).WithClock(clock.Now)

	tr.RecordResponseHeaders("weight", 1000)
	qt := tr.QueryTime(clock.Now())
	// With 1000/1200 used, a weight-1 acquire should still admit now.
	assert.Equal(t, clock.Now(), qt["weight"])

	// A lower server-reported value must never reduce accounted usage.
	tr.RecordResponseHeaders("weight", 10)
	state := tr.states["weight"]
	assert.True(t, state.sum() >= 1000)
}
