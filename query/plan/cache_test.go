package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/config"
)

func TestPlanCachedReturnsCachedNodeOnSecondCall(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	cfg := config.PlannerDefault()
	cfg.EnablePlanCaching = true
	c := eqField("email")
	indexes := AvailableIndexes{"email": true}

	first, err := PlanCached(c, indexes, cfg, cache)
	require.NoError(t, err)
	assert.Equal(t, OpIndexScan, first.Op)

	key := cacheKey(c, indexes, cfg)
	_, hit := cache.entries.Get(key)
	assert.True(t, hit)

	second, err := PlanCached(c, indexes, cfg, cache)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanCachedBypassesCacheWhenDisabled(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)
	cfg := config.PlannerDefault()
	cfg.EnablePlanCaching = false

	_, err = PlanCached(eqField("email"), AvailableIndexes{"email": true}, cfg, cache)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.entries.Len())
}

func TestConditionKeyDistinguishesDifferentConditions(t *testing.T) {
	assert.NotEqual(t, conditionKey(eqField("a")), conditionKey(eqField("b")))
}
