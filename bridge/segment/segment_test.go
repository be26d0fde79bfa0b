package segment

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerSnapshot(m *Messenger) [4]uint32 {
	return [4]uint32{
		m.RequestReady().Load(),
		m.ResponseReady().Load(),
		m.PayloadLength().Load(),
		m.Sequence().Load(),
	}
}

func TestNew_RejectsTooSmall(t *testing.T) {
	_, err := New(common.HeaderSize + common.MinRequestSize)
	assert.Error(t, err)

	seg, err := New(MinLength)
	require.NoError(t, err)
	assert.Equal(t, MinLength, seg.Len())
	assert.False(t, seg.Shared())
}

func TestMessenger_Capacity(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	m := NewMessenger(seg)
	assert.Equal(t, 48, m.Capacity())
	assert.Same(t, seg, m.Segment())
}

func TestMessenger_SetPayloadRoundTrip(t *testing.T) {
	seg, err := New(128)
	require.NoError(t, err)
	m := NewMessenger(seg)

	data := []byte("hello, segment")
	require.NoError(t, m.SetPayload(data))
	assert.Equal(t, uint32(len(data)), m.PayloadLength().Load())

	view, err := m.CurrentPayload()
	require.NoError(t, err)
	assert.Equal(t, data, view)

	// the view aliases the segment
	require.NoError(t, m.SetPayload([]byte("HELLO")))
	assert.True(t, bytes.HasPrefix(view, []byte("HELLO")))
}

func TestMessenger_SetPayloadTooLargeLeavesHeaderUntouched(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	m := NewMessenger(seg)

	require.NoError(t, m.SetPayload([]byte("abc")))
	m.Sequence().Store(7)
	before := headerSnapshot(m)
	payloadBefore := append([]byte(nil), seg.Bytes()...)

	err = m.SetPayload(make([]byte, 49))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.Equal(t, before, headerSnapshot(m))
	assert.Equal(t, payloadBefore, seg.Bytes())

	// exactly the capacity fits
	assert.NoError(t, m.SetPayload(make([]byte, 48)))
}

func TestMessenger_PayloadBounds(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	m := NewMessenger(seg)

	_, err = m.Payload(49)
	assert.True(t, errors.Is(err, ErrCapacity))
	_, err = m.Payload(-1)
	assert.Error(t, err)

	view, err := m.Payload(48)
	require.NoError(t, err)
	assert.Len(t, view, 48)
}

func TestMessenger_Reset(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	m := NewMessenger(seg)
	m.RequestReady().Store(1)
	m.ResponseReady().Store(1)
	m.Sequence().Store(99)
	require.NoError(t, m.SetPayload([]byte("x")))

	m.Reset()
	assert.Equal(t, [4]uint32{}, headerSnapshot(m))
}

func TestMessenger_ClosedSegment(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	m := NewMessenger(seg)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())

	assert.ErrorIs(t, m.SetPayload([]byte("x")), ErrClosed)
	_, err = m.Payload(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCell_WaitReturnsWhenValueDiffers(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	c := NewMessenger(seg).ResponseReady()

	c.Store(1)
	start := time.Now()
	assert.NoError(t, c.Wait(0, time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCell_WaitTimesOut(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	c := NewMessenger(seg).ResponseReady()

	start := time.Now()
	var werr error
	// spurious wake-ups are allowed, loop like the invoker does
	for c.Load() == 0 {
		werr = c.Wait(0, 5*time.Millisecond)
		if errors.Is(werr, ErrWaitTimeout) {
			break
		}
	}
	assert.ErrorIs(t, werr, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCell_WakeReleasesWaiter(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	c := NewMessenger(seg).ResponseReady()

	done := make(chan error, 1)
	go func() {
		var werr error
		for c.Load() == 0 && werr == nil {
			werr = c.Wait(0, 2*time.Second)
		}
		done <- werr
	}()

	time.Sleep(10 * time.Millisecond)
	c.Store(1)
	c.Wake(1)

	select {
	case werr := <-done:
		assert.NoError(t, werr)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestCell_ConcurrentCompareAndSwap(t *testing.T) {
	seg, err := New(64)
	require.NoError(t, err)
	c := NewMessenger(seg).Sequence()
	c.Store(5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.CompareAndSwap(5, 6) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, uint32(6), c.Load())
}

func TestSharedSegment_CreateOpenUnlink(t *testing.T) {
	name := fmt.Sprintf("test-%d-%d", os.Getpid(), time.Now().UnixNano())
	seg, err := CreateShared(name, 4096)
	if err != nil {
		t.Skipf("shared memory not available: %v", err)
	}
	defer func() {
		_ = seg.Close()
		_ = seg.Unlink()
	}()
	assert.True(t, seg.Shared())
	assert.Equal(t, name, seg.Name())

	_, err = CreateShared(name, 4096)
	assert.Error(t, err, "second create with the same name must fail")

	other, err := OpenShared(name)
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, 4096, other.Len())

	// writes through one mapping are visible through the other
	a, b := NewMessenger(seg), NewMessenger(other)
	require.NoError(t, a.SetPayload([]byte("shared")))
	a.Sequence().Store(42)
	view, err := b.CurrentPayload()
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), view)
	assert.Equal(t, uint32(42), b.Sequence().Load())

	require.NoError(t, seg.Unlink())
	_, err = OpenShared(name)
	assert.Error(t, err)
}

func TestSharedSegment_InvalidName(t *testing.T) {
	_, err := CreateShared("../escape", 4096)
	assert.Error(t, err)
	_, err = CreateShared("", 4096)
	assert.Error(t, err)
}
