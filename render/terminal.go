package render

import (
	"fmt"
	"io"
	"strings"
)

const (
	clearScreen       = "\033[H\033[2J"
	DefaultTermHeight = 12
)

// TerminalSurface draws a fixed-height window of lyric rows to a terminal.
// It keeps its own copy of the fragments, so it must be paired with a
// formatter that emits one row per line (ANSIFormatter) and a controller
// line height of 1.
type TerminalSurface struct {
	w      io.Writer
	height int
	title  string
	status string

	frags  []string
	offset int
}

func NewTerminalSurface(w io.Writer, height int) *TerminalSurface {
	if height <= 0 {
		height = DefaultTermHeight
	}
	return &TerminalSurface{w: w, height: height}
}

// SetTitle sets the header row and clears the lyrics and status.
func (t *TerminalSurface) SetTitle(title string) error {
	t.title = title
	t.status = ""
	t.frags = nil
	t.offset = 0
	return t.draw()
}

// SetStatus shows a message below the lyrics window until the next title.
func (t *TerminalSurface) SetStatus(status string) error {
	t.status = status
	return t.draw()
}

func (t *TerminalSurface) Patch(ops []Op) error {
	frags, err := Apply(t.frags, ops)
	if err != nil {
		return err
	}
	t.frags = frags
	return t.draw()
}

func (t *TerminalSurface) Scroll(offset int) error {
	t.offset = max(offset, 0)
	return t.draw()
}

// Rows returns the lyric rows currently held, scrolled or not.
func (t *TerminalSurface) Rows() []string {
	text := strings.Join(t.frags, "")
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func (t *TerminalSurface) draw() error {
	var b strings.Builder
	b.WriteString(clearScreen)
	if t.title != "" {
		fmt.Fprintf(&b, "%s%s%s\n\n", ansiBold, t.title, ansiReset)
	}

	rows := t.Rows()
	start := min(t.offset, len(rows))
	end := min(start+t.height, len(rows))
	for _, row := range rows[start:end] {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	if t.status != "" {
		fmt.Fprintf(&b, "\n%s\n", t.status)
	}

	_, err := io.WriteString(t.w, b.String())
	return err
}
