package embedder

import (
	"fmt"
	"sync"
	"time"
)

// modelLoader guards a singleton's expensive first-use initialization
// behind a mutex: the first caller runs loadFn while every concurrent
// caller waits on a condition variable instead of racing to load, up to
// timeout. Once loaded, every later call returns the cached result
// immediately.
type modelLoader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	loading bool
	loaded  bool
	err     error
	timeout time.Duration
}

func newModelLoader(timeout time.Duration) *modelLoader {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	l := &modelLoader{timeout: timeout}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *modelLoader) ensure(loadFn func() error) error {
	l.mu.Lock()
	if l.loaded {
		defer l.mu.Unlock()
		return l.err
	}
	if l.loading {
		timedOut := false
		timer := time.AfterFunc(l.timeout, func() {
			l.mu.Lock()
			timedOut = true
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		defer timer.Stop()
		for l.loading && !l.loaded && !timedOut {
			l.cond.Wait()
		}
		defer l.mu.Unlock()
		if !l.loaded {
			return fmt.Errorf("embedder: model load timeout after %s", l.timeout)
		}
		return l.err
	}
	l.loading = true
	l.mu.Unlock()

	err := loadFn()

	l.mu.Lock()
	l.loading = false
	l.loaded = true
	l.err = err
	l.cond.Broadcast()
	l.mu.Unlock()
	return err
}
