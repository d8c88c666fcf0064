package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLevelsLinearChain(t *testing.T) {
	levels, err := BuildLevels(
		[]string{"a", "b", "c"},
		map[string][]string{
			"b": {"a"},
			"c": {"b"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
}

func TestBuildLevelsDiamond(t *testing.T) {
	levels, err := BuildLevels(
		[]string{"top", "left", "right", "bottom"},
		map[string][]string{
			"left":   {"top"},
			"right":  {"top"},
			"bottom": {"left", "right"},
		},
	)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"top"}, levels[0])
	assert.Equal(t, []string{"left", "right"}, levels[1])
	assert.Equal(t, []string{"bottom"}, levels[2])
}

func TestBuildLevelsIndependentItems(t *testing.T) {
	levels, err := BuildLevels([]string{"z", "a", "m"}, nil)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	// IDs within a level come back sorted for determinism
	assert.Equal(t, []string{"a", "m", "z"}, levels[0])
}

func TestBuildLevelsEveryDependencyInEarlierLevel(t *testing.T) {
	deps := map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
		"e": {"a", "d"},
		"f": {"c"},
	}
	levels, err := BuildLevels([]string{"a", "b", "c", "d", "e", "f"}, deps)
	require.NoError(t, err)

	levelOf := map[string]int{}
	total := 0
	for i, level := range levels {
		for _, id := range level {
			_, seen := levelOf[id]
			require.False(t, seen, "item %s appears twice", id)
			levelOf[id] = i
			total++
		}
	}
	assert.Equal(t, 6, total)

	for id, ds := range deps {
		for _, d := range ds {
			assert.Less(t, levelOf[d], levelOf[id], "%s must be scheduled before %s", d, id)
		}
	}
}

func TestBuildLevelsCycleDetected(t *testing.T) {
	_, err := BuildLevels(
		[]string{"a", "b", "c"},
		map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		},
	)
	require.Error(t, err)
	assert.True(t, IsCycle(err))

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, []string{"a", "b", "c"}, cycleErr.Item)
}

func TestBuildLevelsSelfCycle(t *testing.T) {
	_, err := BuildLevels([]string{"a"}, map[string][]string{"a": {"a"}})
	require.Error(t, err)
	assert.True(t, IsCycle(err))
}

func TestBuildLevelsUnknownDependency(t *testing.T) {
	_, err := BuildLevels([]string{"a"}, map[string][]string{"a": {"ghost"}})
	require.Error(t, err)
	assert.False(t, IsCycle(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildLevelsDuplicateID(t *testing.T) {
	_, err := BuildLevels([]string{"a", "a"}, nil)
	require.Error(t, err)
}

func TestBuildLevelsEmpty(t *testing.T) {
	levels, err := BuildLevels(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}
