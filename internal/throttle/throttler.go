package throttle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleThrottle)

// reservation is a committed weight contribution that expires once its
// bucket's window has elapsed since the moment it was admitted.
type reservation struct {
	expireAt time.Time
	weight   int64
}

type bucketState struct {
	bucket        Bucket
	reservations  []reservation // kept sorted ascending by expireAt
	reservedUntil time.Time     // set by onBackoffHint
	meter         metrics.Meter
}

func (s *bucketState) prune(at time.Time) {
	i := 0
	for i < len(s.reservations) && !s.reservations[i].expireAt.After(at) {
		i++
	}
	if i > 0 {
		s.reservations = s.reservations[i:]
	}
}

func (s *bucketState) sum() int64 {
	var total int64
	for _, r := range s.reservations {
		total += r.weight
	}
	return total
}

// Throttler gates outbound calls for one API canonical so its published
// rate limits are never exceeded. One instance per canonical;
// internal/throttle.Registry indexes instances by canonical name. Local by
// default; see redis_sync.go for the cross-process variant needed once
// more than one dispatcher process shares an exchange.
type Throttler struct {
	canonical Canonical
	mu        sync.Mutex // the per-canonical serialisation point
	states    map[string]*bucketState
	clock     func() time.Time
	sleeper   func(ctx context.Context, d time.Duration) error
	sync      BucketSync // optional externalisation hook, nil for process-local only
}

// BucketSync lets bucket accounting be reconciled against an external
// store (redis_sync.go) so multiple dispatcher processes sharing a
// canonical observe one shared budget instead of each enforcing its own
// process-local view.
type BucketSync interface {
	// Reserve tells the external store a reservation of weight is being
	// made for bucket, admitted at 'at' and expiring at 'expireAt', against
	// the bucket's capacity. It may return an adjusted 'at' if the external
	// view (other processes' reservations) requires a later admission time
	// than the local view computed.
	Reserve(ctx context.Context, canonical, bucket string, weight, capacity int64, at, expireAt time.Time) (time.Time, error)
}

// New builds a Throttler for canonical with real wall-clock timing.
func New(canonical Canonical) *Throttler {
	t := &Throttler{
		canonical: canonical,
		states:    make(map[string]*bucketState),
		clock:     time.Now,
		sleeper: func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return nil
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	for _, b := range canonical.Buckets {
		t.states[b.Name] = &bucketState{
			bucket: b,
			meter:  metrics.NewRegisteredMeter("throttle/"+canonical.Name+"/"+b.Name, nil),
		}
	}
	return t
}

// WithClock overrides the clock, for deterministic tests.
func (t *Throttler) WithClock(c func() time.Time) *Throttler { t.clock = c; return t }

// WithSleeper overrides how Acquire waits, so tests can advance a fake
// clock instead of sleeping wall-clock time.
func (t *Throttler) WithSleeper(s func(ctx context.Context, d time.Duration) error) *Throttler {
	t.sleeper = s
	return t
}

// WithSync externalises bucket accounting across processes.
func (t *Throttler) WithSync(s BucketSync) *Throttler { t.sync = s; return t }

// ReleaseToken is returned by Acquire; callers invoke it (a no-op here,
// since weight is already committed at admission time) once the request
// completes, kept for symmetry with callers that expect an RAII-style
// acquire/release handle.
type ReleaseToken func()

// Acquire computes the total weight per bucket for endpointSignature,
// reserves budget across every affected bucket, and blocks until the
// latest bucket's earliest-fit time. accountKey is accepted for future
// per-account budgets; per-IP vs per-UID limits are currently modelled as
// distinct buckets in the Canonical's bucket list, not as a further
// dimension here.
func (t *Throttler) Acquire(ctx context.Context, endpointSignature, accountKey string) (ReleaseToken, error) {
	weights, ok := t.canonical.Endpoints[endpointSignature]
	if !ok {
		// Unknown endpoints still need *some* accounting so a
		// misconfigured weight table fails safe (spends one default
		// unit of the canonical's primary bucket) rather than bypassing
		// the throttler entirely.
		weights = t.defaultWeight()
	}

	t.mu.Lock()
	now := t.clock()
	admitAt := now
	for _, w := range weights {
		state := t.states[w.Bucket]
		if state == nil {
			continue
		}
		state.prune(now)
		candidate := t.earliestFit(state, w.Cost, now)
		if candidate.After(admitAt) {
			admitAt = candidate
		}
	}

	for _, w := range weights {
		state := t.states[w.Bucket]
		if state == nil {
			continue
		}
		expireAt := admitAt.Add(state.bucket.Window)
		if t.sync != nil {
			adjusted, err := t.sync.Reserve(ctx, t.canonical.Name, w.Bucket, w.Cost, state.bucket.Capacity, admitAt, expireAt)
			if err == nil && adjusted.After(admitAt) {
				admitAt = adjusted
				expireAt = admitAt.Add(state.bucket.Window)
			}
		}
		state.reservations = append(state.reservations, reservation{expireAt: expireAt, weight: w.Cost})
		sortReservations(state.reservations)
		state.meter.Mark(w.Cost)
	}
	t.mu.Unlock()

	wait := admitAt.Sub(now)
	AcquireWait.WithLabelValues(t.canonical.Name).Observe(wait.Seconds())
	if wait > 0 {
		logger.Debug("throttler waiting for capacity", zap.String("endpoint", endpointSignature), zap.Duration("wait", wait))
		if err := t.sleeper(ctx, wait); err != nil {
			return nil, err
		}
	}
	return func() {}, nil
}

func (t *Throttler) defaultWeight() []Weight {
	if len(t.canonical.Buckets) == 0 {
		return nil
	}
	return []Weight{{Bucket: t.canonical.Buckets[0].Name, Cost: 1}}
}

// earliestFit returns the earliest time at or after now, and at or after
// the bucket's backoff-hint reservation, at which adding weight would not
// exceed capacity, given the bucket's currently committed reservations.
func (t *Throttler) earliestFit(state *bucketState, weight int64, now time.Time) time.Time {
	floor := now
	if state.reservedUntil.After(floor) {
		floor = state.reservedUntil
	}

	sum := state.sum()
	if sum+weight <= state.bucket.Capacity {
		return floor
	}

	// Walk reservations in expiry order, simulating their removal, until
	// enough capacity frees up.
	remaining := sum
	for _, r := range state.reservations {
		remaining -= r.weight
		if remaining+weight <= state.bucket.Capacity {
			if r.expireAt.After(floor) {
				return r.expireAt
			}
			return floor
		}
	}
	// Shouldn't happen if weight <= capacity; fall back to floor.
	return floor
}

// RecordResponseHeaders clamps a bucket's accounted usage upward (never
// downward) to the server's authoritative view. used is the
// server-reported cumulative weight used within its window.
func (t *Throttler) RecordResponseHeaders(bucketName string, used int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.states[bucketName]
	if state == nil {
		return
	}
	now := t.clock()
	state.prune(now)
	local := state.sum()
	if used > local {
		state.reservations = append(state.reservations, reservation{
			expireAt: now.Add(state.bucket.Window),
			weight:   used - local,
		})
		sortReservations(state.reservations)
	}
}

// OnBackoffHint forces a bucket to be fully reserved for the given
// duration, used on HTTP 418/429 responses.
func (t *Throttler) OnBackoffHint(bucketName string, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.states[bucketName]
	if state == nil {
		return
	}
	until := t.clock().Add(retryAfter)
	if until.After(state.reservedUntil) {
		state.reservedUntil = until
	}
	BackoffHints.WithLabelValues(t.canonical.Name, bucketName).Inc()
	logger.Warn("throttler backoff hint", zap.String("bucket", bucketName), zap.Duration("retry_after", retryAfter))
}

// QueryTime returns, per bucket, the next moment at which at least one
// weight unit is free, for callers that want to schedule ahead rather
// than block in Acquire.
func (t *Throttler) QueryTime(now time.Time) map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time, len(t.states))
	for name, state := range t.states {
		state.prune(now)
		out[name] = t.earliestFit(state, 1, now)
	}
	return out
}

func sortReservations(r []reservation) {
	sort.Slice(r, func(i, j int) bool { return r[i].expireAt.Before(r[j].expireAt) })
}
