package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestID_String(t *testing.T) {
	assert.Equal(t, "channel:5", Channel(5).String())
	assert.Equal(t, "match:9", Match(9).String())
}

func TestIndex_JoinIdempotent(t *testing.T) {
	x := NewIndex()
	x.Join(Channel(1), 10)
	x.Join(Channel(1), 10)

	assert.Equal(t, []int64{10}, x.MembersOf(Channel(1)))
	assert.Equal(t, []ID{Channel(1)}, x.RoomsOf(10))
}

func TestIndex_LeaveEphemeralDestroysRoom(t *testing.T) {
	x := NewIndex()
	x.Join(Match(7), 1)
	x.Join(Match(7), 2)

	assert.False(t, x.Leave(Match(7), 1))
	assert.True(t, x.Has(Match(7)))

	assert.True(t, x.Leave(Match(7), 2))
	assert.False(t, x.Has(Match(7)))
	assert.Empty(t, x.MembersOf(Match(7)))
	assert.Empty(t, x.RoomsOf(1))
	assert.Empty(t, x.RoomsOf(2))
}

func TestIndex_LeavePersistentKeepsRoom(t *testing.T) {
	x := NewIndex()
	x.Join(Channel(3), 1)

	assert.False(t, x.Leave(Channel(3), 1))
	assert.True(t, x.Has(Channel(3)))
	assert.Empty(t, x.MembersOf(Channel(3)))
	assert.Empty(t, x.RoomsOf(1))
}

func TestIndex_LeaveIdempotent(t *testing.T) {
	x := NewIndex()
	x.Join(Match(1), 1)
	assert.True(t, x.Leave(Match(1), 1))
	assert.False(t, x.Leave(Match(1), 1))
	assert.False(t, x.Leave(Match(2), 99))
}

func TestIndex_LeaveNonMemberDoesNotDestroy(t *testing.T) {
	x := NewIndex()
	x.Join(Match(1), 1)
	assert.False(t, x.Leave(Match(1), 2))
	assert.True(t, x.Has(Match(1)))
}

func TestIndex_KindsDoNotCollide(t *testing.T) {
	x := NewIndex()
	x.Join(Channel(1), 5)
	x.Join(Match(1), 6)

	assert.Equal(t, []int64{5}, x.MembersOf(Channel(1)))
	assert.Equal(t, []int64{6}, x.MembersOf(Match(1)))
}

func TestIndex_Drop(t *testing.T) {
	x := NewIndex()
	x.Join(Channel(1), 2)
	x.Join(Channel(1), 1)
	x.Join(Channel(2), 1)

	assert.Equal(t, []int64{1, 2}, x.Drop(Channel(1)))
	assert.False(t, x.Has(Channel(1)))
	assert.Equal(t, []ID{Channel(2)}, x.RoomsOf(1))
	assert.Empty(t, x.RoomsOf(2))
	assert.Nil(t, x.Drop(Channel(1)))
}

func TestIndex_RoomsOfOrdered(t *testing.T) {
	x := NewIndex()
	x.Join(Match(2), 1)
	x.Join(Channel(9), 1)
	x.Join(Channel(3), 1)
	assert.Equal(t, []ID{Channel(3), Channel(9), Match(2)}, x.RoomsOf(1))
}

func TestIndex_ConcurrentJoinLeave(t *testing.T) {
	x := NewIndex()
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			x.Join(Match(int64(i%5)), int64(i))
			x.Join(Channel(1), int64(i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, x.MembersOf(Channel(1)), n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			x.Leave(Match(int64(i%5)), int64(i))
		}(i)
	}
	wg.Wait()
	for m := int64(0); m < 5; m++ {
		assert.False(t, x.Has(Match(m)))
	}
	assert.Equal(t, 1, x.RoomCount())
}

// Property: RoomsOf(u) equals the set of rooms whose members contain u,
// for arbitrary interleavings of join and leave.
func TestPropertyMutualInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := NewIndex()
		rooms := []ID{Channel(1), Channel(2), Match(1), Match(2)}
		users := []int64{1, 2, 3}

		ops := rapid.IntRange(0, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			r := rooms[rapid.IntRange(0, len(rooms)-1).Draw(t, "room")]
			u := users[rapid.IntRange(0, len(users)-1).Draw(t, "user")]
			if rapid.Bool().Draw(t, "join") {
				x.Join(r, u)
			} else {
				x.Leave(r, u)
			}
		}

		for _, u := range users {
			want := map[ID]bool{}
			for _, r := range rooms {
				for _, m := range x.MembersOf(r) {
					if m == u {
						want[r] = true
					}
				}
			}
			got := x.RoomsOf(u)
			if len(got) != len(want) {
				t.Fatalf("user %d: RoomsOf=%v, membership=%v", u, got, want)
			}
			for _, r := range got {
				if !want[r] {
					t.Fatalf("user %d: room %s in RoomsOf but not in MembersOf", u, r)
				}
			}
		}

		for _, r := range rooms {
			if r.Kind.Ephemeral() && x.Has(r) && len(x.MembersOf(r)) == 0 {
				t.Fatalf("empty ephemeral room %s survived", r)
			}
		}
	})
}
