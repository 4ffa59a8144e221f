package exchange

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignGroupRespectsCap(t *testing.T) {
	var groups []*Group
	for i := 0; i < 101; i++ {
		groups = AssignGroup(Kucoin, fmt.Sprintf("SYM%d", i), groups)
	}
	assert.Len(t, groups, 2)
	assert.Len(t, groups[0].Symbols, 100)
	assert.Len(t, groups[1].Symbols, 1)
}

func TestAssignGroupUncappedUsesSingleGroup(t *testing.T) {
	var groups []*Group
	for i := 0; i < 500; i++ {
		groups = AssignGroup(Binance, fmt.Sprintf("SYM%d", i), groups)
	}
	assert.Len(t, groups, 1)
	assert.Len(t, groups[0].Symbols, 500)
}
