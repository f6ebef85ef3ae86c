package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"
	"lyrics-sync-go/render"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ErrSlowConsumer is returned when the outbound queue of a connection is full.
var ErrSlowConsumer = errors.New("websocket send queue full")

// Outbound message types.
const (
	MessageSession = "session"
	MessageLoad    = "load"
	MessageCommand = "command"
	MessagePatch   = "patch"
	MessageScroll  = "scroll"
	MessageError   = "error"
)

// Message is one server-to-browser frame.
type Message struct {
	Type     string      `json:"type"`
	ID       string      `json:"id,omitempty"`
	Audio    string      `json:"audio,omitempty"`
	Title    string      `json:"title,omitempty"`
	Color    string      `json:"color,omitempty"`
	Embedded string      `json:"embedded,omitempty"`
	Command  string      `json:"command,omitempty"`
	Ops      []render.Op `json:"ops,omitempty"`
	Offset   *int        `json:"offset,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// inboundMessage is one browser-to-server frame. Time is in seconds.
type inboundMessage struct {
	Type    string   `json:"type"`
	SongID  string   `json:"songId"`
	Time    *float64 `json:"time"`
	Message string   `json:"message"`
}

// DecodeEvent parses a browser frame into a session event.
func DecodeEvent(data []byte) (Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("malformed message: %w", err)
	}

	ev := Event{Type: EventType(msg.Type), SongID: msg.SongID, Message: msg.Message}
	switch ev.Type {
	case EventSelect:
		if msg.SongID == "" {
			return Event{}, errors.New("select requires songId")
		}
	case EventPosition, EventPaused:
		if msg.Time == nil || math.IsNaN(*msg.Time) || math.IsInf(*msg.Time, 0) {
			return Event{}, fmt.Errorf("%s requires a numeric time", msg.Type)
		}
		ev.Time = lyrics.Seconds(*msg.Time)
	case EventReady, EventResumed, EventEnded, EventLoadError, EventToggle:
	default:
		return Event{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return ev, nil
}

// Conn adapts a websocket to a session: the browser is both the audio
// subsystem and the display. Sends never block the session loop.
type Conn struct {
	ws   *websocket.Conn
	send chan Message

	mu      sync.Mutex
	song    *lyrics.Song
	closed  bool
	session string
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, send: make(chan Message, sendBuffer)}
}

func (c *Conn) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Audio side.

func (c *Conn) Load(resource string) error {
	msg := Message{Type: MessageLoad, Audio: resource}
	c.mu.Lock()
	if song := c.song; song != nil {
		msg.Title = song.Title
		msg.Color = song.Color
		msg.Embedded = song.Embedded
	}
	c.mu.Unlock()
	return c.enqueue(msg)
}

func (c *Conn) Play() error  { return c.enqueue(Message{Type: MessageCommand, Command: "play"}) }
func (c *Conn) Pause() error { return c.enqueue(Message{Type: MessageCommand, Command: "pause"}) }
func (c *Conn) Stop() error  { return c.enqueue(Message{Type: MessageCommand, Command: "stop"}) }

// Display side.

func (c *Conn) Patch(ops []render.Op) error {
	return c.enqueue(Message{Type: MessagePatch, Ops: ops})
}

func (c *Conn) Scroll(offset int) error {
	return c.enqueue(Message{Type: MessageScroll, Offset: &offset})
}

// Reset records the song whose header goes out with the next load.
func (c *Conn) Reset(song *lyrics.Song) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.song = song
	return nil
}

func (c *Conn) Error(message string) error {
	return c.enqueue(Message{Type: MessageError, Message: message})
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debugf("%s %s Write failed: %v", logcolors.LogSession, logcolors.Session(c.session), err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds browser frames to the session until the socket closes.
func (c *Conn) readPump(ctx context.Context, s *Session) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("%s %s Read failed: %v", logcolors.LogSession, logcolors.Session(s.ID()), err)
			}
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			c.Error(err.Error())
			continue
		}
		if err := s.Post(ctx, ev); err != nil {
			return
		}
	}
}

// Serve runs one sync session over ws until the browser disconnects or ctx
// ends. The socket is closed on return.
func Serve(ctx context.Context, ws *websocket.Conn, source Source, cfg Config) error {
	conn := NewConn(ws)
	s := New(source, conn, conn, cfg)
	conn.session = s.ID()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump()
	}()
	go func() {
		defer cancel()
		conn.readPump(ctx, s)
	}()

	conn.enqueue(Message{Type: MessageSession, ID: s.ID()})
	err := s.Run(ctx)

	conn.close()
	<-writerDone
	ws.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
