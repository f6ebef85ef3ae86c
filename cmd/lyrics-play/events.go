package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"
	"lyrics-sync-go/mpv"
	"lyrics-sync-go/render"
	"lyrics-sync-go/session"

	log "github.com/sirupsen/logrus"
)

// poster is the part of a session the input goroutines feed.
type poster interface {
	Post(ctx context.Context, ev session.Event) error
}

// terminalDisplay shows the song header and errors on the terminal surface.
type terminalDisplay struct {
	*render.TerminalSurface
}

func (d terminalDisplay) Reset(song *lyrics.Song) error {
	title := song.Title
	if song.Group != "" {
		title += " - " + song.Group
	}
	return d.SetTitle(title)
}

func (d terminalDisplay) Error(message string) error {
	return d.SetStatus("error: " + message)
}

func toSessionEvent(ev mpv.Event) (session.Event, bool) {
	switch ev.Kind {
	case mpv.EventReady:
		return session.Event{Type: session.EventReady}, true
	case mpv.EventPosition:
		return session.Event{Type: session.EventPosition, Time: ev.Time}, true
	case mpv.EventPaused:
		return session.Event{Type: session.EventPaused, Time: ev.Time}, true
	case mpv.EventResumed:
		return session.Event{Type: session.EventResumed}, true
	case mpv.EventEnded:
		return session.Event{Type: session.EventEnded}, true
	case mpv.EventLoadError:
		return session.Event{Type: session.EventLoadError, Message: ev.Message}, true
	}
	return session.Event{}, false
}

// forwardEvents feeds player reports into the session until either side stops.
func forwardEvents(ctx context.Context, events <-chan mpv.Event, s poster) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			sev, ok := toSessionEvent(ev)
			if !ok {
				log.Debugf("%s Ignoring player event %q", logcolors.LogAudio, ev.Kind)
				continue
			}
			if err := s.Post(ctx, sev); err != nil {
				return
			}
		}
	}
}

// readKeys toggles playback on every line read from in and calls quit on a
// line starting with q. End of input leaves the song playing.
func readKeys(ctx context.Context, in io.Reader, s poster, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "q") {
			quit()
			return
		}
		if err := s.Post(ctx, session.Event{Type: session.EventToggle}); err != nil {
			return
		}
	}
}
