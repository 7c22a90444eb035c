package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsForPriorityBands(t *testing.T) {
	assert.Equal(t, 4096, LimitsForPriority(95).MaxOpenFiles)
	assert.Equal(t, 2048, LimitsForPriority(70).MaxOpenFiles)
	assert.Equal(t, 16, LimitsForPriority(50).MaxPids)
	assert.Equal(t, 8, LimitsForPriority(30).MaxPids)
	assert.Equal(t, 2, LimitsForPriority(0).MaxPids)
}

func TestLimitsForPriorityMemoryDescending(t *testing.T) {
	assert.Greater(t, LimitsForPriority(90).MemoryBytes, LimitsForPriority(70).MemoryBytes)
	assert.Greater(t, LimitsForPriority(70).MemoryBytes, LimitsForPriority(50).MemoryBytes)
	assert.Greater(t, LimitsForPriority(50).MemoryBytes, LimitsForPriority(30).MemoryBytes)
	assert.Greater(t, LimitsForPriority(30).MemoryBytes, LimitsForPriority(10).MemoryBytes)
}

func TestNoopLimitEnforcerAlwaysSucceeds(t *testing.T) {
	var e LimitEnforcer = NoopLimitEnforcer{}
	assert.NoError(t, e.Apply(1234, Limits{}))
}
