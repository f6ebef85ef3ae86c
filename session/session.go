// Package session runs one sync session: a single event loop that owns a
// playback clock, compiles the lyrics on every clock update and keeps a
// display in step through a render controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"
	"lyrics-sync-go/playback"
	"lyrics-sync-go/render"
	"lyrics-sync-go/stats"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Post once the session loop has exited.
var ErrClosed = errors.New("session closed")

// EventType names an inbound event.
type EventType string

const (
	EventSelect    EventType = "select"
	EventReady     EventType = "ready"
	EventPosition  EventType = "position"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventEnded     EventType = "ended"
	EventLoadError EventType = "load-error"
	// EventToggle asks for play/pause; the audio subsystem confirms with
	// paused or resumed.
	EventToggle EventType = "toggle"

	eventSongLoaded EventType = "song-loaded"
	eventSongFailed EventType = "song-failed"
)

// Event is one input to the session loop.
type Event struct {
	Type    EventType
	SongID  string
	Time    time.Duration
	Message string

	// set on fetch results
	seq  uint64
	song *lyrics.Song
	err  error
}

// Display is a render surface that can also show a new song's header and
// report errors to the listener.
type Display interface {
	render.Surface
	Reset(song *lyrics.Song) error
	Error(message string) error
}

// Config carries the per-session tunables.
type Config struct {
	TickInterval time.Duration
	LineHeight   int
	ContextLines int
	Formatter    render.Formatter
}

// Session owns the clock, the render controller and the event loop. Only the
// loop goroutine touches the clock and controller.
type Session struct {
	id         string
	clock      *playback.Clock
	ticker     *playback.TimeTicker
	audio      playback.Audio
	display    Display
	controller *render.Controller
	source     Source
	pipeline   *pipeline

	events  chan Event
	done    chan struct{}
	started time.Time

	// seq tags song fetches; a result whose seq is not current is stale
	seq uint64
}

// New creates a session. Run must be called to start it.
func New(source Source, audio playback.Audio, display Display, cfg Config) *Session {
	if cfg.Formatter == nil {
		cfg.Formatter = render.HTMLFormatter{}
	}
	ticker := playback.NewTimeTicker()
	s := &Session{
		id:      uuid.NewString(),
		ticker:  ticker,
		audio:   audio,
		display: display,
		source:  source,
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	s.clock = playback.NewClock(audio, ticker, playback.WithPeriod(cfg.TickInterval))
	s.controller = render.NewController(display, cfg.Formatter,
		render.WithLineHeight(cfg.LineHeight),
		render.WithContextLines(cfg.ContextLines),
	)
	s.pipeline = &pipeline{session: s}
	s.clock.Subscribe(s.pipeline)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Post queues an event for the loop. It blocks while the queue is full and
// fails once the session is closed.
func (s *Session) Post(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is done. On return the ticker is disarmed,
// audio is stopped and every clock listener is detached.
func (s *Session) Run(ctx context.Context) error {
	s.started = time.Now()
	stats.Get().RecordSessionOpened()
	log.Infof("%s %s Session started", logcolors.LogSession, logcolors.Session(s.id))

	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ticker.C():
			s.clock.Tick()
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	s.clock.Close()
	s.ticker.Disarm()
	stats.Get().RecordSessionClosed(time.Since(s.started))
	log.Infof("%s %s Session closed", logcolors.LogSession, logcolors.Session(s.id))
}

func (s *Session) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventSelect:
		s.selectSong(ctx, ev.SongID)
	case eventSongLoaded:
		s.songLoaded(ev)
	case eventSongFailed:
		s.songFailed(ev)
	case EventReady:
		s.clock.Ready()
	case EventPosition:
		if s.clock.Sync(ev.Time) {
			stats.Get().RecordResync()
		}
	case EventPaused:
		s.clock.Pause(ev.Time)
	case EventResumed:
		s.clock.Resume()
	case EventEnded:
		s.clock.End()
	case EventLoadError:
		s.loadError(ev.Message)
	case EventToggle:
		s.toggle()
	default:
		log.Warnf("%s %s Ignoring unknown event %q", logcolors.LogSession, logcolors.Session(s.id), ev.Type)
	}
}

// selectSong starts a fetch. The current song keeps playing until the new
// record arrives.
func (s *Session) selectSong(ctx context.Context, id string) {
	if id == "" {
		s.report("no song id given")
		return
	}
	s.seq++
	seq := s.seq

	log.Infof("%s %s Fetching song %q", logcolors.LogSession, logcolors.Session(s.id), id)
	go func() {
		song, err := s.source.Song(ctx, id)
		ev := Event{Type: eventSongLoaded, SongID: id, seq: seq, song: song}
		if err != nil {
			ev = Event{Type: eventSongFailed, SongID: id, seq: seq, err: err}
		}
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}()
}

func (s *Session) songLoaded(ev Event) {
	if ev.seq != s.seq {
		log.Debugf("%s %s Dropping stale fetch of %q", logcolors.LogSession, logcolors.Session(s.id), ev.SongID)
		return
	}
	s.controller.Reset()
	if err := s.display.Reset(ev.song); err != nil {
		log.Warnf("%s %s Failed to reset display: %v", logcolors.LogSession, logcolors.Session(s.id), err)
	}
	stats.Get().RecordSongSelected()

	if err := s.clock.Select(ev.song); err != nil {
		stats.Get().RecordAudioLoadFailure()
		s.report(fmt.Sprintf("could not load audio for %q", ev.song.Title))
	}
}

func (s *Session) songFailed(ev Event) {
	if ev.seq != s.seq {
		return
	}
	stats.Get().RecordSongFetchFailure()
	log.Warnf("%s %s Fetch of %q failed: %v", logcolors.LogSession, logcolors.Session(s.id), ev.SongID, ev.err)

	if errors.Is(ev.err, ErrNotFound) {
		s.report(fmt.Sprintf("song %q not found", ev.SongID))
		return
	}
	s.report("could not fetch song")
}

func (s *Session) loadError(message string) {
	if message == "" {
		message = "audio failed to load"
	}
	stats.Get().RecordAudioLoadFailure()
	s.clock.LoadFailed(errors.New(message))
	s.report(message)
}

func (s *Session) toggle() {
	var err error
	switch s.clock.State() {
	case playback.StatePlaying:
		err = s.audio.Pause()
	case playback.StatePaused, playback.StateEnded:
		err = s.audio.Play()
	default:
		return
	}
	if err != nil {
		log.Warnf("%s %s Toggle failed: %v", logcolors.LogSession, logcolors.Session(s.id), err)
	}
}

func (s *Session) report(message string) {
	if err := s.display.Error(message); err != nil {
		log.Warnf("%s %s Failed to report %q: %v", logcolors.LogSession, logcolors.Session(s.id), message, err)
	}
}

// pipeline compiles each clock snapshot and hands the model to the
// controller.
type pipeline struct {
	session *Session
}

func (p *pipeline) OnUpdate(snap playback.Snapshot) {
	s := p.session
	model := lyrics.Compile(snap.Tokens, snap.Time)
	before := s.controller.Patches()
	if err := s.controller.Render(model); err != nil {
		log.Warnf("%s %s Render failed: %v", logcolors.LogRender, logcolors.Session(s.id), err)
		return
	}
	if s.controller.Patches() != before {
		stats.Get().RecordPatch()
	}
}
