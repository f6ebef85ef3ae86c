package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMpv is the far end of the IPC socket. It records every command and
// lets the test push events.
type fakeMpv struct {
	conn net.Conn

	mu       sync.Mutex
	commands [][]any
}

func (f *fakeMpv) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		var cmd command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmd.Command)
		f.mu.Unlock()
		fmt.Fprintf(f.conn, `{"error":"success","request_id":%d}`+"\n", cmd.RequestID)
	}
}

func (f *fakeMpv) push(t *testing.T, line string) {
	t.Helper()
	_, err := fmt.Fprintln(f.conn, line)
	require.NoError(t, err)
}

func (f *fakeMpv) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		out = append(out, strings.TrimSpace(fmt.Sprintln(c...)))
	}
	return out
}

func newTestPlayer(t *testing.T, opts ...Option) (*Player, *fakeMpv) {
	t.Helper()
	client, server := net.Pipe()
	fake := &fakeMpv{conn: server}
	go fake.serve()

	p := NewPlayer(filepath.Join(t.TempDir(), "mpv.sock"), opts...)
	p.spawn = func() error { return nil }
	p.dial = func() (net.Conn, error) { return client, nil }
	t.Cleanup(func() {
		p.Close()
		server.Close()
	})
	return p, fake
}

func nextEvent(t *testing.T, p *Player) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event from player")
		return Event{}
	}
}

func TestPlayer_LoadObservesAndLoadsPaused(t *testing.T) {
	p, fake := newTestPlayer(t, WithResolver(func(s string) string { return "http://host" + s }))

	require.NoError(t, p.Load("/media/a.mp3"))

	require.Eventually(t, func() bool { return len(fake.sent()) == 5 }, 2*time.Second, 5*time.Millisecond)
	sent := fake.sent()
	assert.Equal(t, []string{
		"observe_property 1 time-pos",
		"observe_property 2 pause",
		"observe_property 3 eof-reached",
	}, sent[:3])
	assert.Equal(t, []string{
		"set_property pause true",
		"loadfile http://host/media/a.mp3 replace",
	}, sent[3:])
}

func TestPlayer_EmptyResource(t *testing.T) {
	p, _ := newTestPlayer(t)
	assert.Error(t, p.Load(""))
}

func TestPlayer_Events(t *testing.T) {
	p, fake := newTestPlayer(t, WithPositionInterval(0))
	require.NoError(t, p.Load("a.mp3"))

	fake.push(t, `{"event":"file-loaded"}`)
	assert.Equal(t, Event{Kind: EventReady}, nextEvent(t, p))

	fake.push(t, `{"event":"property-change","id":2,"name":"pause","data":false}`)
	assert.Equal(t, Event{Kind: EventResumed}, nextEvent(t, p))

	fake.push(t, `{"event":"property-change","id":1,"name":"time-pos","data":1.5}`)
	assert.Equal(t, Event{Kind: EventPosition, Time: 1500 * time.Millisecond}, nextEvent(t, p))

	fake.push(t, `{"event":"property-change","id":2,"name":"pause","data":true}`)
	assert.Equal(t, Event{Kind: EventPaused, Time: 1500 * time.Millisecond}, nextEvent(t, p))

	// null time-pos while idle is skipped
	fake.push(t, `{"event":"property-change","id":1,"name":"time-pos","data":null}`)
	fake.push(t, `{"event":"property-change","id":3,"name":"eof-reached","data":false}`)
	fake.push(t, `{"event":"property-change","id":3,"name":"eof-reached","data":true}`)
	assert.Equal(t, Event{Kind: EventEnded}, nextEvent(t, p))

	fake.push(t, `{"event":"end-file","reason":"error","file_error":"loading failed"}`)
	assert.Equal(t, Event{Kind: EventLoadError, Message: "loading failed"}, nextEvent(t, p))

	// stop and replace are not errors
	fake.push(t, `{"event":"end-file","reason":"stop"}`)
	fake.push(t, `{"event":"file-loaded"}`)
	assert.Equal(t, Event{Kind: EventReady}, nextEvent(t, p))
}

func TestPlayer_PositionThrottled(t *testing.T) {
	p, fake := newTestPlayer(t, WithPositionInterval(time.Hour))
	require.NoError(t, p.Load("a.mp3"))

	fake.push(t, `{"event":"property-change","id":1,"name":"time-pos","data":0.1}`)
	assert.Equal(t, EventPosition, nextEvent(t, p).Kind)

	fake.push(t, `{"event":"property-change","id":1,"name":"time-pos","data":0.2}`)
	fake.push(t, `{"event":"property-change","id":2,"name":"pause","data":true}`)

	// the throttled position still feeds the paused time
	assert.Equal(t, Event{Kind: EventPaused, Time: 200 * time.Millisecond}, nextEvent(t, p))
}

func TestPlayer_PlayAfterEndSeeksToStart(t *testing.T) {
	p, fake := newTestPlayer(t)
	require.NoError(t, p.Load("a.mp3"))

	fake.push(t, `{"event":"property-change","id":3,"name":"eof-reached","data":true}`)
	require.Equal(t, EventEnded, nextEvent(t, p).Kind)

	require.NoError(t, p.Play())
	require.NoError(t, p.Pause())
	require.NoError(t, p.Play())

	require.Eventually(t, func() bool { return len(fake.sent()) == 9 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"seek 0 absolute",
		"set_property pause false",
		"set_property pause true",
		"set_property pause false",
	}, fake.sent()[5:9])
}

func TestPlayer_StopWithoutProcess(t *testing.T) {
	p, fake := newTestPlayer(t)
	require.NoError(t, p.Stop())
	assert.Empty(t, fake.sent())
}

func TestPlayer_SpawnFailure(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.spawn = func() error { return errors.New("mpv not installed") }
	assert.ErrorContains(t, p.Load("a.mp3"), "mpv not installed")
}

func TestPlayer_ClosedRejectsCommands(t *testing.T) {
	p, _ := newTestPlayer(t)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Load("a.mp3"), ErrClosed)
	assert.ErrorIs(t, p.Play(), ErrClosed)
	assert.NoError(t, p.Close())
}
