// Package notify implements an admin-notification throttle: at most one
// alert per window, plus the narrow Sink seam actual delivery
// (Pushover/email/webhook) plugs into. Only the throttling windows are in
// scope; message bodies and transport are an external collaborator.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleNotify)

// KeyFunc derives the sliding-window key a fault is throttled under.
// Three documented granularities cover the common cases; callers may
// supply their own for a finer/coarser grouping.
type KeyFunc func(accountID uint64, canonical, symbol string) string

func PerAccount(accountID uint64, canonical, symbol string) string {
	return fmt.Sprintf("account:%d", accountID)
}

func PerExchange(accountID uint64, canonical, symbol string) string {
	return fmt.Sprintf("account:%d:exchange:%s", accountID, canonical)
}

func PerSymbol(accountID uint64, canonical, symbol string) string {
	return fmt.Sprintf("account:%d:exchange:%s:symbol:%s", accountID, canonical, symbol)
}

// Sink delivers an already-throttle-admitted notification. Concrete
// transports (Pushover, email, a webhook) are an external collaborator;
// this interface is the seam they plug into.
type Sink interface {
	Send(ctx context.Context, subject, body string) error
}

// Throttle gates notification delivery through a Redis sliding window: at
// most one alert per (key, window) passes through to the Sink; the rest
// are counted and dropped silently.
type Throttle struct {
	client *redis.Client
	sink   Sink
	window time.Duration
	keyFn  KeyFunc
}

// DefaultWindow is the operator-tunable default throttle window.
const DefaultWindow = 5 * time.Minute

func New(client *redis.Client, sink Sink) *Throttle {
	return &Throttle{client: client, sink: sink, window: DefaultWindow, keyFn: PerAccount}
}

func (t *Throttle) WithWindow(d time.Duration) *Throttle { t.window = d; return t }
func (t *Throttle) WithKeyFunc(f KeyFunc) *Throttle      { t.keyFn = f; return t }

func windowKey(key string) string {
	return fmt.Sprintf("notify:window:%s", key)
}

// Notify admits subject/body through the window for (accountID,
// canonical, symbol) if no alert has fired for that key in the current
// window; otherwise it silently increments a suppressed counter and
// returns nil.
func (t *Throttle) Notify(ctx context.Context, accountID uint64, canonical, symbol, subject, body string) error {
	key := windowKey(t.keyFn(accountID, canonical, symbol))
	ok, err := t.client.SetNX(key, 1, t.window).Result()
	if err != nil {
		return err
	}
	if !ok {
		t.client.Incr(key + ":suppressed")
		logger.Debug("notification suppressed by window")
		return nil
	}
	return t.sink.Send(ctx, subject, body)
}
