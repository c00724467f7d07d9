package ingestqueue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPathLocksSerializesSamePath(t *testing.T) {
	p := newPathLocks()
	release, ok := p.acquire("a.pdf")
	require.True(t, ok)

	var second int32
	done := make(chan struct{})
	go func() {
		_, ok := p.acquire("a.pdf")
		if ok {
			atomic.StoreInt32(&second, 1)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&second))
	release()
	<-done
}

func TestPathLocksSkipsAfterTimeout(t *testing.T) {
	p := newPathLocks()
	p.waitTimeout = 20 * time.Millisecond
	_, ok := p.acquire("b.pdf")
	require.True(t, ok)

	_, ok = p.acquire("b.pdf")
	require.False(t, ok, "second acquirer should skip once the wait times out")
}

func TestPathLocksIndependentPaths(t *testing.T) {
	p := newPathLocks()
	_, ok1 := p.acquire("x.pdf")
	_, ok2 := p.acquire("y.pdf")
	require.True(t, ok1)
	require.True(t, ok2)
}
