// Package render turns compiled lyric models into markup fragments and keeps
// a display surface in step with them.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"lyrics-sync-go/lyrics"
)

// Formatter flattens a model into an ordered list of markup fragments.
// Fragment boundaries are what reconciliation works on, so a formatter
// should emit one fragment per word plus one per line terminator.
type Formatter interface {
	Format(m lyrics.Model) []string
}

var whitespace = regexp.MustCompile(`\s`)

// HTMLFormatter renders the browser markup: one span per word and the call
// sub-line of each line between two <br /> tags.
type HTMLFormatter struct{}

func (HTMLFormatter) Format(m lyrics.Model) []string {
	var out []string
	for _, line := range m.Lines {
		for _, span := range line.Spans {
			out = append(out, htmlSpan(span))
		}
		switch {
		case line.Break:
			out = append(out, "<br /> "+htmlCalls(line.Calls)+" <br />")
		case len(line.Calls) > 0:
			// unterminated last line: calls still shown, nothing follows
			out = append(out, "<br /> "+htmlCalls(line.Calls))
		}
	}
	return out
}

func htmlSpan(s lyrics.Span) string {
	text := html.EscapeString(s.Text)
	if s.Style == lyrics.StyleHighlighted {
		return fmt.Sprintf(`<span style="color: %s">%s </span>`, s.Color, text)
	}
	return "<span>" + text + " </span>"
}

func htmlCalls(calls []lyrics.Span) string {
	var b strings.Builder
	for _, c := range calls {
		text := whitespace.ReplaceAllString(html.EscapeString(c.Text), "&nbsp;")
		fmt.Fprintf(&b, `<span style="color: %s">%s </span>`, html.EscapeString(c.Color), text)
	}
	return b.String()
}

// ANSIFormatter renders for a color terminal. Calls trail their line after a
// bar and every line terminator is a single newline, so one lyric line is one
// terminal row.
type ANSIFormatter struct {
	// NoColor drops escape sequences.
	NoColor bool
}

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
)

var ansiColors = map[string]string{
	lyrics.HighlightColor: "\033[94m",
	lyrics.CallAlertColor: "\033[31m",
	lyrics.CallMutedColor: "\033[90m",
}

func (f ANSIFormatter) Format(m lyrics.Model) []string {
	var out []string
	for _, line := range m.Lines {
		for _, span := range line.Spans {
			out = append(out, f.paint(span)+" ")
		}
		if line.Break || len(line.Calls) > 0 {
			out = append(out, f.terminator(line.Calls))
		}
	}
	return out
}

func (f ANSIFormatter) terminator(calls []lyrics.Span) string {
	if len(calls) == 0 {
		return "\n"
	}
	var b strings.Builder
	b.WriteString("| ")
	for _, c := range calls {
		b.WriteString(f.paint(c))
		b.WriteByte(' ')
	}
	b.WriteByte('\n')
	return b.String()
}

func (f ANSIFormatter) paint(s lyrics.Span) string {
	if f.NoColor || s.Style == lyrics.StylePlain {
		return s.Text
	}
	code, ok := ansiColors[s.Color]
	if !ok {
		// arbitrary call colors have no terminal equivalent
		code = ansiBold
	}
	return code + s.Text + ansiReset
}
