package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRegistry struct{ classes map[string]bool }

func (f fakeRegistry) Has(class string) bool { return f.classes[class] }

func TestResolverPrefersExchangeSpecificClass(t *testing.T) {
	reg := fakeRegistry{classes: map[string]bool{
		"Jobs.Lifecycles.Position.Bybit.DispatchPositionJob": true,
	}}
	r := New(reg, 16)

	got := r.Resolve("Jobs.Lifecycles.Position.DispatchPositionJob", "bybit")
	assert.Equal(t, "Jobs.Lifecycles.Position.Bybit.DispatchPositionJob", got)
}

func TestResolverFallsBackToDefault(t *testing.T) {
	reg := fakeRegistry{classes: map[string]bool{}}
	r := New(reg, 16)

	got := r.Resolve("Jobs.Lifecycles.Position.DispatchPositionJob", "kraken")
	assert.Equal(t, "Jobs.Lifecycles.Position.DispatchPositionJob", got)
}

func TestResolverDeterministic(t *testing.T) {
	reg := fakeRegistry{classes: map[string]bool{
		"Jobs.Atomic.Binance.PlaceOrderJob": true,
	}}
	r := New(reg, 16)

	a := r.Resolve("Jobs.Atomic.PlaceOrderJob", "binance")
	b := r.Resolve("Jobs.Atomic.PlaceOrderJob", "binance")
	assert.Equal(t, a, b)
	assert.Equal(t, "Jobs.Atomic.Binance.PlaceOrderJob", a)
}
