package bounded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEvictsOldest(t *testing.T) {
	b := Bound{Cap: 3, Policy: EvictOldest}
	var list []int
	var err error
	for i := 1; i <= 5; i++ {
		list, err = Push(list, b, i)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{3, 4, 5}, list)
}

func TestPushRejectsWhenFull(t *testing.T) {
	b := Bound{Cap: 2, Policy: RejectNew}
	list, err := Push([]string{"a", "b"}, b, "c")
	require.ErrorIs(t, err, ErrFull)
	assert.Equal(t, []string{"a", "b"}, list)
}

func TestPushDoesNotAliasInput(t *testing.T) {
	base := make([]int, 2, 10)
	base[0], base[1] = 1, 2

	a, err := Push(base, Bound{Cap: 10}, 3)
	require.NoError(t, err)
	b, err := Push(base, Bound{Cap: 10}, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, a)
	assert.Equal(t, []int{1, 2, 4}, b)
	assert.Len(t, base, 2)
}

func TestPushUnique(t *testing.T) {
	b := Bound{Cap: 2, Policy: RejectNew}
	list, err := PushUnique([]int{1, 2}, b, 2)
	require.NoError(t, err, "already present must not count against capacity")
	assert.Equal(t, []int{1, 2}, list)
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		from, to []int
		bound    Bound
		wantFrom []int
		wantTo   []int
		wantErr  error
	}{
		{
			name:     "moves between lists",
			from:     []int{1, 2, 3},
			to:       []int{9},
			bound:    Bound{Cap: 5, Policy: RejectNew},
			wantFrom: []int{1, 3},
			wantTo:   []int{9, 2},
		},
		{
			name:     "full target leaves both lists untouched",
			from:     []int{1, 2, 3},
			to:       []int{8, 9},
			bound:    Bound{Cap: 2, Policy: RejectNew},
			wantFrom: []int{1, 2, 3},
			wantTo:   []int{8, 9},
			wantErr:  ErrFull,
		},
		{
			name:     "evicting target always succeeds",
			from:     []int{2},
			to:       []int{8, 9},
			bound:    Bound{Cap: 2, Policy: EvictOldest},
			wantFrom: []int{},
			wantTo:   []int{9, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := Move(tt.from, tt.to, tt.bound, 2)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}
