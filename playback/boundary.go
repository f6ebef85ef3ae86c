package playback

import (
	"sync"
	"time"
)

// Audio is the command side of the audio subsystem. Its events (ready,
// position updates, pause, resume, end) are fed back into the Clock by
// whoever owns the event loop.
type Audio interface {
	Load(resource string) error
	Play() error
	Pause() error
	Stop() error
}

// Ticker arms and disarms the fixed-period tick source. Firings are delivered
// to Clock.Tick by the event loop, never concurrently with other transitions.
type Ticker interface {
	Arm(period time.Duration)
	Disarm()
}

// TimeTicker is a Ticker backed by time.Ticker. The owning loop selects on C.
type TimeTicker struct {
	mu      sync.Mutex
	ticker  *time.Ticker
	c       chan time.Time
	done    chan struct{}
	stopped chan struct{}
}

// NewTimeTicker creates a disarmed ticker.
func NewTimeTicker() *TimeTicker {
	return &TimeTicker{c: make(chan time.Time, 1)}
}

// C delivers firings while armed. It is never closed.
func (t *TimeTicker) C() <-chan time.Time {
	return t.c
}

// Arm starts (or restarts) ticking at the given period.
func (t *TimeTicker) Arm(period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.ticker = time.NewTicker(period)
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})
	go forward(t.ticker.C, t.c, t.done, t.stopped)
}

// Disarm stops ticking and drops any firing that was not consumed yet.
func (t *TimeTicker) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Armed reports whether the ticker is running.
func (t *TimeTicker) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker != nil
}

func (t *TimeTicker) stopLocked() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.done)
	<-t.stopped
	t.ticker = nil
	t.done = nil
	t.stopped = nil

	select {
	case <-t.c:
	default:
	}
}

// forward relays firings until done is closed. Disarm waits on stopped and
// then drains dst, so a stale firing never survives a Disarm.
func forward(src <-chan time.Time, dst chan time.Time, done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case ts := <-src:
			select {
			case dst <- ts:
			default:
				// loop is behind; coalesce
			}
		case <-done:
			return
		}
	}
}
