package eventdispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/blockberries/sigberry/internal/testutil"
	"github.com/blockberries/sigberry/pkg/behaviour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher[behaviour.Event](10)

	require.NotNil(t, d)
	assert.Equal(t, 10, cap(d.events))
	assert.False(t, d.IsClosed())

	assert.Equal(t, 0, cap(NewDispatcher[int](-1).events))
}

func TestDispatcher_Emit(t *testing.T) {
	d := NewDispatcher[behaviour.Event](10)
	defer d.Close()

	peerID := testutil.NewPeerID(t)
	ok := d.Emit(behaviour.Event{
		Kind:      behaviour.ReceivedSdpOffer,
		PeerID:    peerID,
		Payload:   "v=0",
		Timestamp: time.Now(),
	})
	assert.True(t, ok)

	select {
	case evt := <-d.Events():
		assert.Equal(t, peerID, evt.PeerID)
		assert.Equal(t, behaviour.ReceivedSdpOffer, evt.Kind)
		assert.Equal(t, "v=0", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestDispatcher_PreservesOrder(t *testing.T) {
	d := NewDispatcher[int](10)
	defer d.Close()

	for i := 0; i < 5; i++ {
		d.Emit(i)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, <-d.Events())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher[int](2)
	defer d.Close()

	var dropped []int
	d.OnDrop(func(v int) { dropped = append(dropped, v) })

	assert.True(t, d.Emit(1))
	assert.True(t, d.Emit(2))
	assert.False(t, d.Emit(3))
	assert.False(t, d.Emit(4))

	emitted, drops := d.Stats()
	assert.Equal(t, uint64(2), emitted)
	assert.Equal(t, uint64(2), drops)
	assert.Equal(t, []int{3, 4}, dropped)
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher[int](1)
	d.Close()
	d.Close()

	assert.True(t, d.IsClosed())
	assert.False(t, d.Emit(1))

	_, open := <-d.Events()
	assert.False(t, open)
}

func TestDispatcher_ConcurrentEmit(t *testing.T) {
	d := NewDispatcher[int](1000)
	defer d.Close()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Emit(i)
			}
		}()
	}
	wg.Wait()

	emitted, dropped := d.Stats()
	assert.Equal(t, uint64(1000), emitted+dropped)
	assert.Len(t, d.Events(), int(emitted))
}

func TestDispatcher_KeepOnOverflow(t *testing.T) {
	d := NewDispatcher[int](1)
	defer d.Close()

	var dropped []int
	d.OnDrop(func(v int) { dropped = append(dropped, v) })
	d.KeepOnOverflow(func(v int) bool { return v%2 == 0 })

	assert.True(t, d.Emit(1))
	assert.True(t, d.Emit(2))
	assert.False(t, d.Emit(3))
	assert.True(t, d.Emit(4))
	assert.Equal(t, []int{3}, dropped)

	var got []int
	for len(got) < 3 {
		select {
		case v := <-d.Events():
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}
	assert.Equal(t, []int{1, 2, 4}, got)

	require.Eventually(t, func() bool { return d.Held() == 0 }, time.Second, 5*time.Millisecond)
	emitted, drops := d.Stats()
	assert.Equal(t, uint64(3), emitted)
	assert.Equal(t, uint64(1), drops)

	// Once the backlog is gone, unselected events go straight through again.
	assert.True(t, d.Emit(5))
	assert.Equal(t, 5, <-d.Events())
}

func TestDispatcher_HeldEventsOrderedBehindBacklog(t *testing.T) {
	d := NewDispatcher[int](2)
	defer d.Close()
	d.KeepOnOverflow(func(int) bool { return true })

	for i := 0; i < 50; i++ {
		require.True(t, d.Emit(i))
	}
	for i := 0; i < 50; i++ {
		select {
		case v := <-d.Events():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestDispatcher_CloseDiscardsHeld(t *testing.T) {
	d := NewDispatcher[int](1)
	d.KeepOnOverflow(func(int) bool { return true })

	d.Emit(1)
	d.Emit(2)
	d.Emit(3)
	d.Close()

	assert.Equal(t, 0, d.Held())
	assert.False(t, d.Emit(4))

	var got []int
	for v := range d.Events() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
}
