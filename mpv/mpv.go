// Package mpv drives an mpv process over its JSON IPC socket and reports
// what the player does back as audio events.
package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

const (
	socketCheckRetries  = 20
	socketCheckInterval = 100 * time.Millisecond

	// DefaultPositionInterval throttles time-pos reports, which mpv sends
	// far more often than a resync needs.
	DefaultPositionInterval = 250 * time.Millisecond

	observeTimePos = 1
	observePause   = 2
	observeEOF     = 3
)

// ErrClosed is returned by commands after Close.
var ErrClosed = errors.New("mpv player closed")

// EventKind names an audio event.
type EventKind string

const (
	EventReady     EventKind = "ready"
	EventPosition  EventKind = "position"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventEnded     EventKind = "ended"
	EventLoadError EventKind = "load-error"
)

// Event is one report from the player. Time is set for position and paused.
type Event struct {
	Kind    EventKind
	Time    time.Duration
	Message string
}

type command struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

type message struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int             `json:"request_id"`
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
}

// Player implements the audio boundary on top of mpv. Files are loaded
// paused; mpv's file-loaded event is the ready signal.
type Player struct {
	socketPath       string
	binary           string
	resolve          func(string) string
	positionInterval time.Duration

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	conn   net.Conn
	enc    *json.Encoder
	nextID int
	closed bool

	// set by the read loop at end of file, cleared by Load and Play
	ended atomic.Bool

	// reader state, only touched by the read loop
	lastPos  time.Duration
	lastSent time.Time

	spawn func() error
	dial  func() (net.Conn, error)
}

// Option configures a Player.
type Option func(*Player)

// WithBinary sets the mpv executable.
func WithBinary(path string) Option {
	return func(p *Player) { p.binary = path }
}

// WithResolver maps a song's audio resource to something mpv can open,
// such as an absolute URL or a local path.
func WithResolver(fn func(string) string) Option {
	return func(p *Player) { p.resolve = fn }
}

// WithPositionInterval sets the minimum spacing of position events.
func WithPositionInterval(d time.Duration) Option {
	return func(p *Player) { p.positionInterval = d }
}

func NewPlayer(socketPath string, opts ...Option) *Player {
	os.Remove(socketPath)
	p := &Player{
		socketPath:       socketPath,
		binary:           "mpv",
		resolve:          func(s string) string { return s },
		positionInterval: DefaultPositionInterval,
		events:           make(chan Event, 64),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.spawn = p.startProcess
	p.dial = func() (net.Conn, error) { return net.Dial("unix", p.socketPath) }
	return p
}

// Events delivers player reports until Close.
func (p *Player) Events() <-chan Event {
	return p.events
}

func (p *Player) startProcess() error {
	if p.cmd != nil {
		select {
		case <-p.exited:
			p.cmd = nil
		default:
			return nil
		}
	}

	log.Infof("%s Starting mpv process", logcolors.LogAudio)
	p.cmd = exec.Command(p.binary,
		"--idle",
		"--input-ipc-server="+p.socketPath,
		"--no-video",
		"--no-config",
		"--no-terminal",
		"--keep-open=yes",
		"--pause",
	)
	if err := p.cmd.Start(); err != nil {
		p.cmd = nil
		return fmt.Errorf("could not start mpv process: %w", err)
	}
	exited := make(chan struct{})
	go func(cmd *exec.Cmd) {
		cmd.Wait()
		close(exited)
	}(p.cmd)
	p.exited = exited

	for range socketCheckRetries {
		if _, err := os.Stat(p.socketPath); err == nil {
			return nil
		}
		time.Sleep(socketCheckInterval)
	}

	p.cmd.Process.Kill()
	p.cmd = nil
	return fmt.Errorf("mpv process started but socket did not appear at %s", p.socketPath)
}

// connectLocked makes sure the process runs and the event connection is open.
func (p *Player) connectLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.conn != nil {
		return nil
	}
	if err := p.spawn(); err != nil {
		return err
	}
	conn, err := p.dial()
	if err != nil {
		return fmt.Errorf("could not connect to mpv socket: %w", err)
	}
	p.conn = conn
	p.enc = json.NewEncoder(conn)
	go p.readLoop(conn)

	for _, prop := range []struct {
		id   int
		name string
	}{{observeTimePos, "time-pos"}, {observePause, "pause"}, {observeEOF, "eof-reached"}} {
		if err := p.sendLocked("observe_property", prop.id, prop.name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) sendLocked(args ...any) error {
	p.nextID++
	if err := p.enc.Encode(command{Command: args, RequestID: p.nextID}); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("error sending mpv command: %w", err)
	}
	return nil
}

func (p *Player) send(args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return err
	}
	return p.sendLocked(args...)
}

// Load replaces the current file. Playback stays paused until Play.
func (p *Player) Load(resource string) error {
	if resource == "" {
		return errors.New("no audio resource")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return err
	}
	p.ended.Store(false)
	log.Infof("%s Loading %s", logcolors.LogAudio, resource)
	if err := p.sendLocked("set_property", "pause", true); err != nil {
		return err
	}
	return p.sendLocked("loadfile", p.resolve(resource), "replace")
}

// Play starts or resumes playback. After the end of the file it replays
// from the beginning.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return err
	}
	if p.ended.CompareAndSwap(true, false) {
		if err := p.sendLocked("seek", 0, "absolute"); err != nil {
			return err
		}
	}
	return p.sendLocked("set_property", "pause", false)
}

func (p *Player) Pause() error {
	return p.send("set_property", "pause", true)
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.sendLocked("stop")
}

// Close quits mpv and ends the event stream.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	if p.conn != nil {
		p.sendLocked("quit")
		if p.conn != nil {
			p.conn.Close()
			p.conn = nil
		}
	}
	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Errorf("%s Error terminating mpv process: %v", logcolors.LogAudio, err)
		}
	}
	os.Remove(p.socketPath)
	return nil
}

func (p *Player) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Player) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Warnf("%s Could not parse line from mpv: %v", logcolors.LogAudio, err)
			continue
		}
		p.handle(msg)
	}

	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		log.Warnf("%s Lost connection to mpv", logcolors.LogAudio)
		p.emit(Event{Kind: EventLoadError, Message: "audio player exited"})
	}
}

func (p *Player) handle(msg message) {
	switch msg.Event {
	case "":
		if msg.Error != "" && msg.Error != "success" {
			log.Warnf("%s Command %d failed: %s", logcolors.LogAudio, msg.RequestID, msg.Error)
		}
	case "file-loaded":
		p.lastPos = 0
		p.emit(Event{Kind: EventReady})
	case "end-file":
		if msg.Reason == "error" {
			reason := msg.FileError
			if reason == "" {
				reason = "audio failed to load"
			}
			p.emit(Event{Kind: EventLoadError, Message: reason})
		}
	case "property-change":
		p.propertyChange(msg)
	}
}

func (p *Player) propertyChange(msg message) {
	switch msg.ID {
	case observeTimePos:
		// null while no file is playing
		var secs *float64
		if json.Unmarshal(msg.Data, &secs) != nil || secs == nil {
			return
		}
		p.lastPos = lyrics.Seconds(*secs)
		if time.Since(p.lastSent) < p.positionInterval {
			return
		}
		p.lastSent = time.Now()
		p.emit(Event{Kind: EventPosition, Time: p.lastPos})
	case observePause:
		var paused *bool
		if json.Unmarshal(msg.Data, &paused) != nil || paused == nil {
			return
		}
		if *paused {
			p.emit(Event{Kind: EventPaused, Time: p.lastPos})
		} else {
			p.emit(Event{Kind: EventResumed})
		}
	case observeEOF:
		var eof bool
		if json.Unmarshal(msg.Data, &eof) != nil || !eof {
			return
		}
		p.ended.Store(true)
		p.emit(Event{Kind: EventEnded})
	}
}
