package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StrictlyAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Second)

	first := c.Now()
	second := c.Now()
	assert.True(t, second.After(first))
	assert.Equal(t, start.Add(time.Second), first)
	assert.Equal(t, first, c.Current().Add(-time.Second))
}

func TestClock_ResetReplaysTimestamps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Minute)

	a := c.Now()
	c.Reset(start)
	b := c.Now()
	assert.Equal(t, a, b)
}
