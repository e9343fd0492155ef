package presence

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

func TestRegistry_MostRecentMarkWins(t *testing.T) {
	type op struct {
		user    domain.UserID
		present bool
	}

	testCases := []struct {
		name     string
		ops      []op
		user     domain.UserID
		expected bool
	}{
		{name: "unknown user", ops: nil, user: 1, expected: false},
		{name: "marked present", ops: []op{{1, true}}, user: 1, expected: true},
		{name: "present then absent", ops: []op{{1, true}, {1, false}}, user: 1, expected: false},
		{name: "absent then present", ops: []op{{1, false}, {1, true}}, user: 1, expected: true},
		{name: "double present", ops: []op{{1, true}, {1, true}}, user: 1, expected: true},
		{name: "double absent", ops: []op{{1, true}, {1, false}, {1, false}}, user: 1, expected: false},
		{name: "other user untouched", ops: []op{{2, true}, {1, true}, {2, false}}, user: 1, expected: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			for _, o := range tc.ops {
				if o.present {
					r.MarkPresent(o.user)
				} else {
					r.MarkAbsent(o.user)
				}
			}

			assert.Equal(t, tc.expected, r.IsPresent(tc.user))
		})
	}
}

func TestRegistry_Len(t *testing.T) {
	r := NewRegistry()
	r.MarkPresent(3)
	r.MarkPresent(1)
	r.MarkPresent(2)
	r.MarkAbsent(2)

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsPresent(1))
	assert.True(t, r.IsPresent(3))
}

func TestRegistry_ConcurrentDistinctUsers(t *testing.T) {
	const (
		users      = 64
		opsPerUser = 200
	)

	r := NewRegistry()
	expected := make([]bool, users)

	// Each user gets its own goroutine so per-user call order is the sequential replay order.
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		seq := make([]bool, opsPerUser)
		rng := rand.New(rand.NewSource(int64(i)))
		for j := range seq {
			seq[j] = rng.Intn(2) == 0
		}
		expected[i] = seq[len(seq)-1]

		wg.Add(1)
		go func(user domain.UserID, seq []bool) {
			defer wg.Done()
			for _, present := range seq {
				if present {
					r.MarkPresent(user)
				} else {
					r.MarkAbsent(user)
				}
				_ = r.IsPresent(user)
			}
		}(domain.UserID(i), seq)
	}
	wg.Wait()

	count := 0
	for i := 0; i < users; i++ {
		assert.Equal(t, expected[i], r.IsPresent(domain.UserID(i)), "user %d", i)
		if expected[i] {
			count++
		}
	}
	assert.Equal(t, count, r.Len())
}
