package transfer

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// progressReader reports every read performed by the transport.
type progressReader struct {
	r      io.Reader
	total  int64
	loaded atomic.Int64
	onRead func(loaded, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		loaded := p.loaded.Add(int64(n))
		if p.onRead != nil {
			p.onRead(loaded, p.total)
		}
	}
	return n, err
}

// stallTimer fires after a window without progress. It is armed by the first
// touch, so waiting for the first byte never counts as a stall.
type stallTimer struct {
	mu      sync.Mutex
	window  time.Duration
	fire    func()
	timer   *time.Timer
	stopped bool
}

func newStallTimer(window time.Duration, fire func()) *stallTimer {
	if window <= 0 {
		return nil
	}
	return &stallTimer{window: window, fire: fire}
}

// touch arms the timer or restarts its window.
func (s *stallTimer) touch() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.window, s.fire)
		return
	}
	s.timer.Reset(s.window)
}

func (s *stallTimer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
