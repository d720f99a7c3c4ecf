package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimLine(t *testing.T) {
	ev, ok := parseSimLine("alice: 今夜渋谷で焼肉どう？")
	require.True(t, ok)
	assert.Equal(t, simGroupID, ev.GroupID)
	assert.Equal(t, "alice", ev.ParticipantID)
	assert.Equal(t, "alice", ev.DisplayName)
	assert.Equal(t, "今夜渋谷で焼肉どう？", ev.Text)
	assert.False(t, ev.IsDirect)

	ev, ok = parseSimLine("dm alice: 2")
	require.True(t, ok)
	assert.True(t, ev.IsDirect)
	assert.Empty(t, ev.GroupID)
	assert.Equal(t, "2", ev.Text)

	for _, line := range []string{"", "   ", "# comment", "no separator", ": no name"} {
		_, ok := parseSimLine(line)
		assert.False(t, ok, "line %q", line)
	}
}
