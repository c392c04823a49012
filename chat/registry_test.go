package chat

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRegistry_JoinLeave(t *testing.T) {
	r := NewRoomRegistry()
	a, b := newConnection("a", 1), newConnection("b", 1)

	assert.True(t, r.Join("42", a))
	assert.True(t, r.Join("42", b))
	assert.False(t, r.Join("42", a), "second join is a no-op")
	assert.Equal(t, map[string]struct{}{a.ID(): {}, b.ID(): {}}, r.MembersOf("42"))

	assert.True(t, r.Leave("42", a.ID()))
	assert.False(t, r.Leave("42", a.ID()))
	assert.Equal(t, map[string]struct{}{b.ID(): {}}, r.MembersOf("42"))
}

func TestRoomRegistry_UnknownRoom(t *testing.T) {
	r := NewRoomRegistry()
	assert.Empty(t, r.MembersOf("nope"))
	assert.False(t, r.Leave("nope", "id"))
	assert.Empty(t, r.Rooms())
}

func TestRoomRegistry_PruneAndRejoin(t *testing.T) {
	r := NewRoomRegistry()
	a := newConnection("a", 1)
	before := testutil.ToFloat64(roomsGauge)

	r.Join("42", a)
	assert.Equal(t, before+1, testutil.ToFloat64(roomsGauge))

	r.Leave("42", a.ID())
	assert.Nil(t, r.lookup("42"), "empty room is pruned")
	assert.Equal(t, before, testutil.ToFloat64(roomsGauge))

	assert.True(t, r.Join("42", a), "rejoin after prune behaves like a first join")
	assert.Equal(t, map[string]struct{}{a.ID(): {}}, r.MembersOf("42"))
	r.Leave("42", a.ID())
}

func TestRoomRegistry_Rooms(t *testing.T) {
	r := NewRoomRegistry()
	r.Join("b", newConnection("1", 1))
	r.Join("a", newConnection("2", 1))
	r.Join("a", newConnection("3", 1))

	assert.Equal(t, []RoomSummary{{Room: "a", Members: 2}, {Room: "b", Members: 1}}, r.Rooms())
}

func TestRoomRegistry_MatchesModel(t *testing.T) {
	r := NewRoomRegistry()
	rng := rand.New(rand.NewSource(7))

	conns := make([]*Connection, 6)
	for i := range conns {
		conns[i] = newConnection(fmt.Sprint(i), 1)
	}
	roomNames := []string{"a", "b", "c"}
	model := map[string]map[string]struct{}{}

	for i := 0; i < 2000; i++ {
		c := conns[rng.Intn(len(conns))]
		room := roomNames[rng.Intn(len(roomNames))]
		if model[room] == nil {
			model[room] = map[string]struct{}{}
		}
		_, inModel := model[room][c.ID()]

		if rng.Intn(2) == 0 {
			assert.Equal(t, !inModel, r.Join(room, c))
			model[room][c.ID()] = struct{}{}
		} else {
			assert.Equal(t, inModel, r.Leave(room, c.ID()))
			delete(model[room], c.ID())
		}

		for _, name := range roomNames {
			want := model[name]
			if want == nil {
				want = map[string]struct{}{}
			}
			require.Equal(t, want, r.MembersOf(name), "step %d room %s", i, name)
		}
	}
}

func TestRoomRegistry_Concurrent(t *testing.T) {
	r := NewRoomRegistry()
	const workers = 16

	var wg sync.WaitGroup
	kept := make([]*Connection, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", w%4)
			for i := 0; i < 200; i++ {
				c := newConnection("churn", 1)
				r.Join(room, c)
				r.Leave(room, c.ID())
			}
			kept[w] = newConnection("kept", 1)
			r.Join(room, kept[w])
		}(w)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		members := r.MembersOf(fmt.Sprintf("room-%d", i))
		assert.Len(t, members, workers/4)
		total += len(members)
	}
	assert.Equal(t, workers, total)
	for w, c := range kept {
		assert.Contains(t, r.MembersOf(fmt.Sprintf("room-%d", w%4)), c.ID())
	}
}
