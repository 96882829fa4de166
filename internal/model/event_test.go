package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"7", "07", true},
		{" 07 ", "07", true},
		{"0", "00", true},
		{"99", "99", true},
		{"45", "45", true},
		{"", "", false},
		{"100", "", false},
		{"-1", "", false},
		{"a1", "", false},
		{"1.5", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, EventStatusActive.CanTransitionTo(EventStatusClosedAwarded))
	assert.True(t, EventStatusActive.CanTransitionTo(EventStatusClosedNotAwarded))
	assert.False(t, EventStatusActive.CanTransitionTo(EventStatusActive))

	// terminal states never move
	for _, s := range []EventStatus{EventStatusClosedAwarded, EventStatusClosedNotAwarded} {
		assert.True(t, s.IsClosed())
		assert.False(t, s.CanTransitionTo(EventStatusActive))
		assert.False(t, s.CanTransitionTo(EventStatusClosedAwarded))
		assert.False(t, s.CanTransitionTo(EventStatusClosedNotAwarded))
	}

	assert.False(t, EventStatus("unknown").IsValid())
	assert.False(t, EventStatus("unknown").CanTransitionTo(EventStatusClosedAwarded))
}

func TestEvent_EndsAtAndExpiry(t *testing.T) {
	loc := time.FixedZone("VET", -4*60*60)

	e := &Event{EndDate: "2026-10-14", EndTime: "21:00", Status: EventStatusActive, Active: true}
	endsAt, err := e.EndsAt(loc)
	require.NoError(t, err)
	assert.Equal(t, 21, endsAt.Hour())
	assert.Equal(t, loc, endsAt.Location())

	before := endsAt.Add(-time.Minute)
	assert.False(t, e.IsExpired(before, loc))
	assert.True(t, e.AcceptsWrites(before, loc))

	// end time itself already counts as expired
	assert.True(t, e.IsExpired(endsAt, loc))
	assert.False(t, e.AcceptsWrites(endsAt.UTC(), loc))

	inactive := *e
	inactive.Active = false
	assert.False(t, inactive.AcceptsWrites(before, loc))

	closed := *e
	closed.Status = EventStatusClosedAwarded
	assert.False(t, closed.AcceptsWrites(before, loc))

	broken := &Event{EndDate: "not-a-date", EndTime: "21:00"}
	assert.True(t, broken.IsExpired(before, loc))
}

func TestEvent_AcceptsNumber(t *testing.T) {
	e := &Event{MinNumber: 5, MaxNumber: 50, ExcludedNumbers: "07, 13;22"}

	assert.True(t, e.AcceptsNumber("5"))
	assert.True(t, e.AcceptsNumber("50"))
	assert.False(t, e.AcceptsNumber("04"))
	assert.False(t, e.AcceptsNumber("51"))
	assert.False(t, e.AcceptsNumber("7"))
	assert.False(t, e.AcceptsNumber("13"))
	assert.False(t, e.AcceptsNumber("22"))
	assert.True(t, e.AcceptsNumber("23"))
	assert.False(t, e.AcceptsNumber("x"))

	assert.Len(t, e.ExcludedSet(), 3)
}
