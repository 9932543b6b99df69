package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyRegistrationOrder(t *testing.T) {
	var s Subject[int]
	var got []string

	s.Observe(func(v int) { got = append(got, "a") })
	s.Observe(func(v int) { got = append(got, "b") })
	s.Observe(func(v int) { got = append(got, "c") })

	s.Notify(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSubscriptionClose(t *testing.T) {
	var s Subject[string]
	var first, second int

	sub := s.Observe(func(string) { first++ })
	s.Observe(func(string) { second++ })
	require.Equal(t, 2, s.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 1, s.Len())

	s.Notify("x")
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	var s Subject[int]
	calls := 0
	var sub *Subscription
	sub = s.Observe(func(int) {
		calls++
		sub.Close()
	})

	s.Notify(1)
	s.Notify(2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.Len())
}

func TestNilSubscriptionClose(t *testing.T) {
	var sub *Subscription
	assert.NotPanics(t, sub.Close)
}

func TestObserverPanicPropagates(t *testing.T) {
	var s Subject[int]
	s.Observe(func(int) { panic("boom") })
	assert.Panics(t, func() { s.Notify(1) })
}
