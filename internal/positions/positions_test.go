package positions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/dispatcher"
	"github.com/cryptoladder/engine/internal/exchangeapi"
	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/resolver"
	"github.com/cryptoladder/engine/internal/stepstore"
)

type fakePriceBook struct {
	mark        float64
	minNotional float64
}

func (p fakePriceBook) MarkPrice(ctx context.Context, canonical, symbol string) (float64, error) {
	return p.mark, nil
}

func (p fakePriceBook) MinNotional(ctx context.Context, canonical, symbol string) (float64, error) {
	return p.minNotional, nil
}

func (p fakePriceBook) TickSize(ctx context.Context, canonical, symbol string) (float64, error) {
	return 0.1, nil
}

func ok200() *exchangeapi.Response { return &exchangeapi.Response{StatusCode: 200} }

func newTestWorkflow(t *testing.T, client exchangeapi.Client) (*stepstore.MemoryStore, *dispatcher.Dispatcher, string) {
	t.Helper()
	store := stepstore.NewMemoryStore(nil)
	registry := job.NewRegistry()
	resolv := resolver.New(registry, 16)
	deps := Deps{
		Resolver:   resolv,
		Clients:    map[string]exchangeapi.Client{"binance": client},
		Prices:     fakePriceBook{mark: 100, minNotional: 5},
		LadderLegs: 2,
	}
	Register(registry, deps)
	harness := job.NewHarness(registry, store)
	disp := dispatcher.New(store, harness)

	args := stepstore.Arguments{
		ArgCanonical:  "binance",
		ArgAccountID:  "acct-1",
		ArgSymbol:     "BTCUSDT",
		ArgPositionID: uint64(42),
		ArgNotional:   100.0,
		ArgLeverage:   5.0,
		ArgMarginMode: "isolated",
	}
	block, err := NewWorkflow(context.Background(), store, "g", args)
	require.NoError(t, err)
	return store, disp, block
}

func runToQuiescence(t *testing.T, disp *dispatcher.Dispatcher, group string) int {
	t.Helper()
	ctx := context.Background()
	total := 0
	for i := 0; i < 50; i++ {
		n, err := disp.RunTick(ctx, group)
		require.NoError(t, err)
		total += n
		if n == 0 {
			return total
		}
	}
	t.Fatal("workflow did not reach quiescence")
	return total
}

func TestOpenPositionHappyPath(t *testing.T) {
	// happy path: every lifecycle's atomic job succeeds and the
	// compensator never wakes up.
	client := exchangeapi.NewFakeClient()
	for _, sig := range []string{
		"GET /positions/open", "POST /margin-mode", "POST /leverage",
		"POST /order/market", "POST /order/limit", "POST /order/profit", "POST /order/stop-loss",
	} {
		client.SetResponse(sig, ok200())
	}

	store, disp, block := newTestWorkflow(t, client)
	dispatched := runToQuiescence(t, disp, "g")
	assert.True(t, dispatched > 0)

	status, err := store.ChildrenStatus(context.Background(), block)
	require.NoError(t, err)
	// orchestrator + 6 single-step lifecycles + 2 limit legs + profit + stop-loss = 11,
	// plus the halted compensator sibling = 12 rows total in the block.
	assert.Equal(t, 12, status.Total)
	assert.Equal(t, 11, status.Terminal)
	assert.Equal(t, 1, status.NonTerminal)
	assert.False(t, status.AnyFailed)

	assert.Equal(t, 2, countCalls(client, "POST /order/limit"))
	assert.Equal(t, 1, countCalls(client, "POST /order/profit"))
	assert.Equal(t, 1, countCalls(client, "POST /order/stop-loss"))
	assert.Equal(t, 0, countCalls(client, "POST /position/cancel"))
}

func TestOpenPositionCompensatorFiresOnFinalLegFailure(t *testing.T) {
	// a lifecycle-emitted step fails permanently, the sibling
	// resolve-exception step becomes eligible and runs with the
	// workflow's arguments, checked here through the account key its
	// cancel request carries.
	client := exchangeapi.NewFakeClient()
	for _, sig := range []string{
		"GET /positions/open", "POST /margin-mode", "POST /leverage",
		"POST /order/market", "POST /order/limit", "POST /order/profit",
	} {
		client.SetResponse(sig, ok200())
	}
	client.SetResponse("POST /order/stop-loss", &exchangeapi.Response{StatusCode: 400})
	client.SetResponse("POST /position/cancel", ok200())

	store, disp, block := newTestWorkflow(t, client)
	runToQuiescence(t, disp, "g")

	status, err := store.ChildrenStatus(context.Background(), block)
	require.NoError(t, err)
	assert.True(t, status.AnyFailed)
	assert.True(t, status.AllTerminal(), "compensator must have run to a terminal state, not stayed halted")

	require.Equal(t, 1, countCalls(client, "POST /position/cancel"))
	cancelReq := callsFor(client, "POST /position/cancel")[0]
	assert.Equal(t, "acct-1", cancelReq.AccountKey)
}

func countCalls(c *exchangeapi.FakeClient, sig string) int {
	return len(callsFor(c, sig))
}

func callsFor(c *exchangeapi.FakeClient, sig string) []exchangeapi.Request {
	var out []exchangeapi.Request
	for _, r := range c.Calls {
		if r.EndpointSignature == sig {
			out = append(out, r)
		}
	}
	return out
}
