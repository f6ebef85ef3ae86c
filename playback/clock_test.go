package playback

import (
	"errors"
	"testing"
	"time"

	"lyrics-sync-go/lyrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeAudio struct {
	calls   []string
	loadErr error
	playErr error
}

func (a *fakeAudio) Load(resource string) error {
	a.calls = append(a.calls, "load:"+resource)
	return a.loadErr
}

func (a *fakeAudio) Play() error {
	a.calls = append(a.calls, "play")
	return a.playErr
}

func (a *fakeAudio) Pause() error {
	a.calls = append(a.calls, "pause")
	return nil
}

func (a *fakeAudio) Stop() error {
	a.calls = append(a.calls, "stop")
	return nil
}

type fakeTicker struct {
	armed  bool
	period time.Duration
	arms   int
}

func (t *fakeTicker) Arm(period time.Duration) {
	t.armed = true
	t.period = period
	t.arms++
}

func (t *fakeTicker) Disarm() { t.armed = false }

type recorder struct {
	name  string
	log   *[]string
	snaps []Snapshot
}

func (r *recorder) OnUpdate(s Snapshot) {
	r.snaps = append(r.snaps, s)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
}

func testSong(id string) *lyrics.Song {
	return &lyrics.Song{
		ID:        id,
		AudioFile: "/audio/" + id + ".mp3",
		Lyrics:    []lyrics.Token{{Text: "Hello"}, {Trigger: time.Second}},
	}
}

func newTestClock() (*Clock, *fakeAudio, *fakeTicker) {
	audio := &fakeAudio{}
	ticker := &fakeTicker{}
	return NewClock(audio, ticker), audio, ticker
}

func TestClock_ReadyThenEnded(t *testing.T) {
	c, audio, ticker := newTestClock()
	require.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Select(testSong("a")))
	require.Equal(t, StateLoaded, c.State())
	require.Equal(t, time.Duration(0), c.Now())

	c.Ready()
	require.Equal(t, StatePlaying, c.State())
	require.True(t, ticker.armed)
	require.Equal(t, DefaultPeriod, ticker.period)

	c.Tick()
	c.Tick()
	require.Equal(t, 200*time.Millisecond, c.Now())

	c.End()
	require.Equal(t, StateEnded, c.State())
	require.Equal(t, time.Duration(0), c.Now())
	require.False(t, ticker.armed)
	require.Equal(t, []string{"load:/audio/a.mp3", "play"}, audio.calls)
}

func TestClock_TickOnlyWhilePlaying(t *testing.T) {
	c, _, _ := newTestClock()

	c.Tick()
	require.Equal(t, time.Duration(0), c.Now())

	require.NoError(t, c.Select(testSong("a")))
	c.Tick()
	require.Equal(t, time.Duration(0), c.Now(), "loaded clock must not tick")
}

func TestClock_Sync(t *testing.T) {
	tests := []struct {
		name    string
		report  time.Duration
		applied bool
		want    time.Duration
	}{
		{name: "exactly one period ahead is ignored", report: 1100 * time.Millisecond, applied: false, want: time.Second},
		{name: "small jitter is ignored", report: 950 * time.Millisecond, applied: false, want: time.Second},
		{name: "ahead beyond tolerance snaps", report: 1500 * time.Millisecond, applied: true, want: 1500 * time.Millisecond},
		{name: "behind beyond tolerance snaps down", report: 800 * time.Millisecond, applied: true, want: 800 * time.Millisecond},
		{name: "negative report clamps to zero", report: -time.Second, applied: true, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClock()
			require.NoError(t, c.Select(testSong("a")))
			c.Ready()
			for range 10 {
				c.Tick()
			}
			require.Equal(t, time.Second, c.Now())

			require.Equal(t, tt.applied, c.Sync(tt.report))
			require.Equal(t, tt.want, c.Now())
		})
	}
}

func TestClock_SyncIgnoredUnlessPlaying(t *testing.T) {
	c, _, _ := newTestClock()
	require.NoError(t, c.Select(testSong("a")))

	require.False(t, c.Sync(5*time.Second))
	require.Equal(t, time.Duration(0), c.Now())
}

func TestProperty_DriftBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, _, _ := newTestClock()
		require.NoError(rt, c.Select(testSong("a")))
		c.Ready()

		ticks := rapid.IntRange(0, 500).Draw(rt, "ticks")
		for range ticks {
			c.Tick()
		}
		before := c.Now()
		require.Equal(rt, time.Duration(ticks)*DefaultPeriod, before)

		report := time.Duration(rapid.Int64Range(0, 60_000).Draw(rt, "reportMs")) * time.Millisecond
		drift := report - before
		if drift < 0 {
			drift = -drift
		}

		applied := c.Sync(report)
		require.Equal(rt, drift > DefaultPeriod, applied)
		if applied {
			require.Equal(rt, report, c.Now())
		} else {
			require.Equal(rt, before, c.Now())
		}
	})
}

func TestClock_PauseResume(t *testing.T) {
	c, _, ticker := newTestClock()
	require.NoError(t, c.Select(testSong("a")))
	c.Ready()
	c.Tick()

	c.Pause(1234 * time.Millisecond)
	require.Equal(t, StatePaused, c.State())
	require.Equal(t, 1234*time.Millisecond, c.Now())
	require.False(t, ticker.armed)

	c.Tick()
	require.Equal(t, 1234*time.Millisecond, c.Now(), "paused clock must not tick")

	c.Resume()
	require.Equal(t, StatePlaying, c.State())
	require.True(t, ticker.armed)
	require.Equal(t, 1234*time.Millisecond, c.Now(), "resume does not seek")

	arms := ticker.arms
	c.Resume()
	require.Equal(t, arms, ticker.arms, "resume while playing is a no-op")
}

func TestClock_ReplayAfterEnd(t *testing.T) {
	c, _, ticker := newTestClock()
	require.NoError(t, c.Select(testSong("a")))
	c.Ready()
	c.End()

	c.Resume()
	require.Equal(t, StatePlaying, c.State())
	require.True(t, ticker.armed)
	c.Tick()
	require.Equal(t, DefaultPeriod, c.Now())
}

func TestClock_SelectReplacesSession(t *testing.T) {
	c, audio, ticker := newTestClock()
	require.NoError(t, c.Select(testSong("a")))
	c.Ready()
	c.Tick()

	require.NoError(t, c.Select(testSong("b")))
	require.Equal(t, StateLoaded, c.State())
	require.Equal(t, time.Duration(0), c.Now())
	require.False(t, ticker.armed)
	require.Equal(t, "b", c.Song().ID)
	require.Equal(t, []string{"load:/audio/a.mp3", "play", "stop", "load:/audio/b.mp3"}, audio.calls)
}

func TestClock_SelectNil(t *testing.T) {
	c, _, _ := newTestClock()
	require.ErrorIs(t, c.Select(nil), ErrNoSong)
	require.Equal(t, StateIdle, c.State())
}

func TestClock_LoadFailureStaysLoaded(t *testing.T) {
	c, audio, ticker := newTestClock()
	audio.loadErr = errors.New("404")

	err := c.Select(testSong("a"))
	require.Error(t, err)
	require.Equal(t, StateLoaded, c.State())
	require.Error(t, c.Err())

	c.Ready()
	require.Equal(t, StateLoaded, c.State(), "failed load is never retried")
	require.False(t, ticker.armed)
	c.Tick()
	require.Equal(t, time.Duration(0), c.Now())

	audio.loadErr = nil
	require.NoError(t, c.Select(testSong("b")))
	require.NoError(t, c.Err(), "a new selection clears the failure")
}

func TestClock_PlayFailureStaysLoaded(t *testing.T) {
	c, audio, ticker := newTestClock()
	audio.playErr = errors.New("decode error")
	require.NoError(t, c.Select(testSong("a")))

	c.Ready()
	require.Equal(t, StateLoaded, c.State())
	require.False(t, ticker.armed)
	require.Error(t, c.Err())
}

func TestClock_ListenersInRegistrationOrder(t *testing.T) {
	c, _, _ := newTestClock()
	var order []string
	first := &recorder{name: "first", log: &order}
	second := &recorder{name: "second", log: &order}

	c.Subscribe(first)
	c.Subscribe(second)
	c.Subscribe(first)

	require.NoError(t, c.Select(testSong("a")))
	c.Ready()
	c.Tick()

	assert.Equal(t, []string{"first", "second", "first", "second", "first", "second"}, order)
	last := first.snaps[len(first.snaps)-1]
	assert.Equal(t, Snapshot{SongID: "a", State: StatePlaying, Time: DefaultPeriod, Tokens: testSong("a").Lyrics}, last)
}

func TestClock_Unsubscribe(t *testing.T) {
	c, _, _ := newTestClock()
	r := &recorder{}
	unsubscribe := c.Subscribe(r)

	require.NoError(t, c.Select(testSong("a")))
	unsubscribe()
	c.Ready()

	require.Len(t, r.snaps, 1)
}

func TestClock_CloseDetaches(t *testing.T) {
	c, audio, ticker := newTestClock()
	r := &recorder{}
	c.Subscribe(r)
	require.NoError(t, c.Select(testSong("a")))
	c.Ready()

	c.Close()
	require.Equal(t, StateIdle, c.State())
	require.False(t, ticker.armed)
	require.Equal(t, "stop", audio.calls[len(audio.calls)-1])

	n := len(r.snaps)
	c.Tick()
	require.Len(t, r.snaps, n)
}

func TestClock_WithPeriod(t *testing.T) {
	c := NewClock(&fakeAudio{}, &fakeTicker{}, WithPeriod(250*time.Millisecond))
	require.Equal(t, 250*time.Millisecond, c.Period())

	c = NewClock(&fakeAudio{}, &fakeTicker{}, WithPeriod(0))
	require.Equal(t, DefaultPeriod, c.Period())
}

func TestTimeTicker_ArmDisarm(t *testing.T) {
	tk := NewTimeTicker()
	require.False(t, tk.Armed())

	tk.Arm(5 * time.Millisecond)
	require.True(t, tk.Armed())

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
	}

	tk.Disarm()
	require.False(t, tk.Armed())

	select {
	case <-tk.C():
		t.Fatal("no tick expected after disarm")
	case <-time.After(30 * time.Millisecond):
	}
}
