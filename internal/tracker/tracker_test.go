package tracker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barrage/internal/domain"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	tr := New()
	require.True(t, tr.Register(Entry{Handle: "r1", EventID: "e1"}))
	assert.False(t, tr.Register(Entry{Handle: "r1", EventID: "e2"}))
	assert.False(t, tr.Register(Entry{}))
	assert.Equal(t, 1, tr.Len())

	entry, ok := tr.Lookup("r1")
	require.True(t, ok)
	assert.Equal(t, "e1", entry.EventID)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	tr := New()
	tr.Register(Entry{Handle: "r1"})
	tr.Register(Entry{Handle: "r2"})

	_, first := tr.Unregister("r1")
	_, second := tr.Unregister("r1")
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, tr.Len())
	assert.False(t, tr.IsTracked("r1"))
	assert.True(t, tr.IsTracked("r2"))
}

func TestNearestTracked(t *testing.T) {
	tr := New()
	tr.Register(Entry{Handle: "far", Position: domain.Vec3{X: 100}})
	tr.Register(Entry{Handle: "near", Position: domain.Vec3{X: 10}})
	tr.Register(Entry{Handle: "edge", Position: domain.Vec3{X: -50}})

	handle, ok := tr.NearestTracked(domain.Vec3{}, 50)
	require.True(t, ok)
	assert.Equal(t, domain.Handle("near"), handle)

	tr.Unregister("near")
	handle, ok = tr.NearestTracked(domain.Vec3{}, 50)
	require.True(t, ok, "distance threshold is inclusive")
	assert.Equal(t, domain.Handle("edge"), handle)

	_, ok = tr.NearestTracked(domain.Vec3{Z: 500}, 50)
	assert.False(t, ok)
}

func TestClearRewardsKeepsHandles(t *testing.T) {
	tr := New()
	reward := &Reward{Drops: []domain.Drop{{Shortname: "stones", Min: 1, Max: 2}}, Multiplier: 1}
	tr.Register(Entry{Handle: "a", EventID: "e1", Reward: reward})
	tr.Register(Entry{Handle: "b", EventID: "e1", Reward: reward})
	tr.Register(Entry{Handle: "c", EventID: "e2", Reward: reward})

	assert.Equal(t, 2, tr.ClearRewards("e1"))
	assert.Equal(t, 0, tr.ClearRewards("e1"))
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, 2, tr.CountForEvent("e1"))

	entry, _ := tr.Lookup("c")
	assert.NotNil(t, entry.Reward)
}

func TestConcurrentRegisterAndUnregister(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				handle := domain.Handle(fmt.Sprintf("h-%d", i))
				tr.Register(Entry{Handle: handle})
				tr.Unregister(handle)
				tr.Unregister(handle)
			}
		}(worker)
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Len())
}
