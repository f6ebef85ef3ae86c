// Package playback owns the authoritative "current song time" of a sync
// session. The Clock advances on a fixed-period tick and is corrected by the
// sporadic ground-truth positions the audio subsystem reports.
//
// A Clock is not safe for concurrent use: every method must be called from
// the single event loop that owns it.
package playback

import (
	"errors"
	"fmt"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

// DefaultPeriod is the tick period, which is also the resync tolerance.
const DefaultPeriod = 100 * time.Millisecond

// ErrNoSong is returned by Select when given a nil song.
var ErrNoSong = errors.New("no song to select")

// State is the clock's position in the playback state machine.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StatePlaying
	StatePaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoaded:
		return "LOADED"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is the read-only view handed to listeners.
type Snapshot struct {
	SongID string
	State  State
	Time   time.Duration
	Tokens []lyrics.Token
}

// Listener receives a snapshot after every time-changing transition.
// Listeners are compared by identity, so implementations should be pointers.
type Listener interface {
	OnUpdate(Snapshot)
}

// Clock is the playback state machine for one "now playing" record.
type Clock struct {
	audio  Audio
	ticker Ticker
	period time.Duration

	state     State
	song      *lyrics.Song
	now       time.Duration
	loadErr   error
	listeners []Listener
}

// Option configures a Clock.
type Option func(*Clock)

// WithPeriod overrides the tick period.
func WithPeriod(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.period = d
		}
	}
}

// NewClock creates an idle clock driving the given audio subsystem and ticker.
func NewClock(audio Audio, ticker Ticker, opts ...Option) *Clock {
	c := &Clock{
		audio:  audio,
		ticker: ticker,
		period: DefaultPeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Clock) State() State { return c.state }

// Now returns the current song time.
func (c *Clock) Now() time.Duration { return c.now }

// Period returns the tick period.
func (c *Clock) Period() time.Duration { return c.period }

// Song returns the selected song, or nil when idle.
func (c *Clock) Song() *lyrics.Song { return c.song }

// Err returns the load failure of the current song, if any.
func (c *Clock) Err() error { return c.loadErr }

// Subscribe registers l for updates and returns a function that removes it.
// Registering an already registered listener is a no-op.
func (c *Clock) Subscribe(l Listener) (unsubscribe func()) {
	for _, existing := range c.listeners {
		if existing == l {
			return func() { c.unsubscribe(l) }
		}
	}
	c.listeners = append(c.listeners, l)
	return func() { c.unsubscribe(l) }
}

func (c *Clock) unsubscribe(l Listener) {
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Select replaces the current session with song, from any state. The ticker
// is disarmed and the previous audio stopped before the new resource is
// requested, so nothing from the old session can touch the new one.
func (c *Clock) Select(song *lyrics.Song) error {
	if song == nil {
		return ErrNoSong
	}

	c.ticker.Disarm()
	if c.state != StateIdle {
		if err := c.audio.Stop(); err != nil {
			log.Warnf("%s Failed to stop previous audio: %v", logcolors.LogClock, err)
		}
	}

	c.song = song
	c.now = 0
	c.loadErr = nil
	c.state = StateLoaded
	log.Infof("%s Selected song %q -> %s", logcolors.LogClock, song.ID, c.state)

	if err := c.audio.Load(song.AudioFile); err != nil {
		c.LoadFailed(err)
		c.notify()
		return fmt.Errorf("load %s: %w", song.AudioFile, err)
	}

	c.notify()
	return nil
}

// Ready handles the audio subsystem's ready-to-play signal: playback starts
// and the ticker is armed.
func (c *Clock) Ready() {
	if c.state != StateLoaded || c.loadErr != nil {
		log.Debugf("%s Ignoring ready in state %s", logcolors.LogClock, c.state)
		return
	}

	if err := c.audio.Play(); err != nil {
		c.LoadFailed(err)
		return
	}

	c.state = StatePlaying
	c.ticker.Arm(c.period)
	log.Infof("%s Playback started", logcolors.LogClock)
	c.notify()
}

// Tick advances the clock by one period. It is the primary time source.
func (c *Clock) Tick() {
	if c.state != StatePlaying {
		return
	}
	c.now += c.period
	c.notify()
}

// Sync reconciles the clock with a ground-truth position. The position is
// applied only when it deviates from the clock by more than one period, and
// Sync reports whether it was applied.
func (c *Clock) Sync(trueTime time.Duration) bool {
	if c.state != StatePlaying {
		return false
	}
	trueTime = max(trueTime, 0)

	drift := trueTime - c.now
	if drift < 0 {
		drift = -drift
	}
	if drift <= c.period {
		return false
	}

	log.Debugf("%s Resync %v -> %v (drift %v)", logcolors.LogClock, c.now, trueTime, drift)
	c.now = trueTime
	c.notify()
	return true
}

// Pause captures the true position and stops ticking.
func (c *Clock) Pause(trueTime time.Duration) {
	if c.state != StatePlaying {
		log.Debugf("%s Ignoring pause in state %s", logcolors.LogClock, c.state)
		return
	}

	c.ticker.Disarm()
	c.now = max(trueTime, 0)
	c.state = StatePaused
	log.Infof("%s Paused at %v", logcolors.LogClock, c.now)
	c.notify()
}

// Resume restarts ticking after a pause, or replays from zero after the end.
// There is no implicit seek.
func (c *Clock) Resume() {
	switch c.state {
	case StatePaused, StateEnded:
		c.state = StatePlaying
		c.ticker.Arm(c.period)
		log.Infof("%s Resumed at %v", logcolors.LogClock, c.now)
		c.notify()
	default:
		log.Debugf("%s Ignoring resume in state %s", logcolors.LogClock, c.state)
	}
}

// End handles natural end of playback: ticking stops and the time resets.
func (c *Clock) End() {
	if c.state != StatePlaying && c.state != StatePaused {
		log.Debugf("%s Ignoring end in state %s", logcolors.LogClock, c.state)
		return
	}

	c.ticker.Disarm()
	c.now = 0
	c.state = StateEnded
	log.Infof("%s Playback ended", logcolors.LogClock)
	c.notify()
}

// LoadFailed parks the clock in Loaded with no ticking. It is not retried;
// only a new Select recovers.
func (c *Clock) LoadFailed(err error) {
	if c.state == StateIdle {
		return
	}
	if err == nil {
		err = errors.New("audio load failed")
	}

	c.ticker.Disarm()
	c.state = StateLoaded
	c.loadErr = err
	log.Warnf("%s Audio resource failed to load: %v", logcolors.LogClock, err)
}

// Close stops audio, disarms the ticker and detaches every listener.
func (c *Clock) Close() {
	c.ticker.Disarm()
	if c.state != StateIdle {
		if err := c.audio.Stop(); err != nil {
			log.Warnf("%s Failed to stop audio on close: %v", logcolors.LogClock, err)
		}
	}
	c.state = StateIdle
	c.song = nil
	c.now = 0
	c.loadErr = nil
	c.listeners = nil
}

func (c *Clock) snapshot() Snapshot {
	snap := Snapshot{State: c.state, Time: c.now}
	if c.song != nil {
		snap.SongID = c.song.ID
		snap.Tokens = c.song.Lyrics
	}
	return snap
}

// notify dispatches in registration order over a copy, so listeners may
// unsubscribe while being notified.
func (c *Clock) notify() {
	if len(c.listeners) == 0 {
		return
	}
	snap := c.snapshot()
	for _, l := range append([]Listener(nil), c.listeners...) {
		l.OnUpdate(snap)
	}
}
