package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithinCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 30 * time.Second

	never := (*time.Time)(nil)
	assert.False(t, withinCooldown(never, cooldown, now))

	justSynced := now.Add(-1 * time.Second)
	assert.True(t, withinCooldown(&justSynced, cooldown, now))

	almostExpired := now.Add(-29 * time.Second)
	assert.True(t, withinCooldown(&almostExpired, cooldown, now))

	exactlyExpired := now.Add(-30 * time.Second)
	assert.False(t, withinCooldown(&exactlyExpired, cooldown, now))

	longAgo := now.Add(-10 * time.Minute)
	assert.False(t, withinCooldown(&longAgo, cooldown, now))
}
