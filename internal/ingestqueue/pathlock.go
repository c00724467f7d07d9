package ingestqueue

import (
	"sync"
	"time"
)

// pathLocks de-duplicates concurrent ingestion of the same filename: the
// second caller waits up to waitTimeout for the first to finish, then
// skips rather than racing the same parse twice.
type pathLocks struct {
	mu          sync.Mutex
	inFlight    map[string]chan struct{}
	waitTimeout time.Duration
}

func newPathLocks() *pathLocks {
	return &pathLocks{
		inFlight:    make(map[string]chan struct{}),
		waitTimeout: time.Second,
	}
}

// acquire attempts to take the lock for path. If another caller already
// holds it, acquire waits up to waitTimeout for it to release; if it is
// still held afterward, acquire returns ok=false and the caller should
// skip the job. On success the returned release function must be called
// exactly once.
func (p *pathLocks) acquire(path string) (release func(), ok bool) {
	p.mu.Lock()
	existing, held := p.inFlight[path]
	if !held {
		done := make(chan struct{})
		p.inFlight[path] = done
		p.mu.Unlock()
		return func() {
			p.mu.Lock()
			delete(p.inFlight, path)
			p.mu.Unlock()
			close(done)
		}, true
	}
	p.mu.Unlock()

	select {
	case <-existing:
		return p.acquire(path)
	case <-time.After(p.waitTimeout):
		return nil, false
	}
}
