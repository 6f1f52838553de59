package connection

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueue_Send(t *testing.T) {
	q := NewQueue("c1", 4)
	require.NoError(t, q.Send([]byte("hello")))

	data := <-q.Frames()
	assert.Equal(t, []byte("hello"), data)
}

func TestQueue_SendClosed(t *testing.T) {
	q := NewQueue("c1", 4)
	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
	assert.True(t, errors.Is(q.Send([]byte("fail")), ErrClosed))
}

func TestQueue_SendFull(t *testing.T) {
	q := NewQueue("c1", 1)
	require.NoError(t, q.Send([]byte("first")))
	err := q.Send([]byte("overflow"))
	assert.True(t, errors.Is(err, ErrFull))
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue("c1", 4)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	_, open := <-q.Frames()
	assert.False(t, open)
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	c := NewQueue("c1", 1)
	assert.Nil(t, r.Register(1, c))

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = r.Lookup(2)
	assert.False(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	c1 := NewQueue("c1", 1)
	c2 := NewQueue("c2", 1)

	r.Register(1, c1)
	displaced := r.Register(1, c2)

	assert.Same(t, c1, displaced)
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, c2, got)
	assert.Equal(t, 1, r.Count())
	assert.False(t, c1.IsClosed(), "registry must not close the displaced connection")
}

func TestRegistry_RegisterSameConnTwice(t *testing.T) {
	r := NewRegistry()
	c := NewQueue("c1", 1)
	r.Register(1, c)
	assert.Nil(t, r.Register(1, c))
}

func TestRegistry_UnregisterAbsent(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Unregister(42) })
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_UnregisterConnIgnoresStale(t *testing.T) {
	r := NewRegistry()
	r.Register(1, NewQueue("old", 1))
	r.Register(1, NewQueue("new", 1))

	assert.False(t, r.UnregisterConn(1, "old"))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "new", got.ID())

	assert.True(t, r.UnregisterConn(1, "new"))
	_, ok = r.Lookup(1)
	assert.False(t, ok)
}

func TestRegistry_AllSorted(t *testing.T) {
	r := NewRegistry()
	for _, uid := range []int64{3, 1, 2} {
		r.Register(uid, NewQueue(fmt.Sprintf("c%d", uid), 1))
	}
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].UserID, all[1].UserID, all[2].UserID})
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	const n = 100
	var wg sync.WaitGroup

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r.Register(int64(i), NewQueue(fmt.Sprintf("c%d", i), 1))
			_, _ = r.Lookup(int64(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Count())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r.Unregister(int64(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}

// Property: the last registration for a user always wins and never duplicates.
func TestPropertyRegisterReplaceSemantics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		last := make(map[int64]string)
		ops := rapid.IntRange(1, 50).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			uid := rapid.Int64Range(1, 5).Draw(t, "uid")
			id := fmt.Sprintf("c%d", i)
			r.Register(uid, NewQueue(id, 1))
			last[uid] = id
		}
		if r.Count() != len(last) {
			t.Fatalf("count %d != distinct users %d", r.Count(), len(last))
		}
		for uid, id := range last {
			got, ok := r.Lookup(uid)
			if !ok || got.ID() != id {
				t.Fatalf("user %d: want %s", uid, id)
			}
		}
	})
}
