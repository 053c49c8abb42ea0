package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentCountsNormalized(t *testing.T) {
	t.Run("zero value takes defaults", func(t *testing.T) {
		out := AgentCounts{}.Normalized()
		assert.Equal(t, DefaultAgentCounts(), out)
	})

	t.Run("legacy research count splits in half", func(t *testing.T) {
		out := AgentCounts{Phase3Research: 5}.Normalized()
		assert.Equal(t, 3, out.Phase3Historical)
		assert.Equal(t, 2, out.Phase3Current)
	})

	t.Run("explicit split wins over legacy count", func(t *testing.T) {
		out := AgentCounts{Phase3Research: 8, Phase3Historical: 1, Phase3Current: 2}.Normalized()
		assert.Equal(t, 1, out.Phase3Historical)
		assert.Equal(t, 2, out.Phase3Current)
	})

	t.Run("one-sided split backfills the other half", func(t *testing.T) {
		out := AgentCounts{Phase3Historical: 4}.Normalized()
		assert.Equal(t, 4, out.Phase3Historical)
		assert.Equal(t, 1, out.Phase3Current)
	})

	t.Run("validation and synthesis are pinned", func(t *testing.T) {
		out := AgentCounts{Phase2Validation: 9, Phase4Synthesis: 7}.Normalized()
		assert.Equal(t, 2, out.Phase2Validation)
		assert.Equal(t, 1, out.Phase4Synthesis)
	})
}

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "will it rain tomorrow?",
		NormalizeQuestion("  Will   it RAIN\ttomorrow?  "))
	assert.Equal(t, NormalizeQuestion("A  b C"), NormalizeQuestion("a B\n c"))
	assert.Empty(t, NormalizeQuestion("   "))
}

func TestTraderRoster(t *testing.T) {
	roster := TraderRoster()
	assert.Len(t, roster, 18)

	byType := make(map[TraderType]int)
	for _, id := range roster {
		byType[id.Type]++
		switch id.Type {
		case TraderFundamental:
			assert.True(t, id.Class.Valid(), "trader %s", id.Name)
		case TraderNoise:
			assert.NotEmpty(t, id.Sphere, "trader %s", id.Name)
		case TraderUser:
			assert.NotEmpty(t, id.Handle, "trader %s", id.Name)
		}
	}
	assert.Equal(t, 5, byType[TraderFundamental])
	assert.Equal(t, 9, byType[TraderNoise])
	assert.Equal(t, 4, byType[TraderUser])

	id, ok := LookupTrader("momentum")
	assert.True(t, ok)
	assert.Equal(t, ClassMomentum, id.Class)

	_, ok = LookupTrader("stranger")
	assert.False(t, ok)
	assert.False(t, ValidTraderName("stranger"))
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionPending.IsTerminal())
	assert.False(t, SessionRunning.IsTerminal())
	assert.True(t, SessionCompleted.IsTerminal())
	assert.True(t, SessionFailed.IsTerminal())
}

func TestOrderHelpers(t *testing.T) {
	o := &Order{Quantity: 10, FilledQuantity: 4, Status: OrderPartiallyFilled}
	assert.Equal(t, 6, o.Remaining())
	assert.True(t, o.Active())

	o.FilledQuantity = 10
	assert.False(t, o.Active())

	cancelled := &Order{Quantity: 10, Status: OrderCancelled}
	assert.False(t, cancelled.Active())
}
