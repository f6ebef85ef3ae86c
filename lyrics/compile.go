package lyrics

import (
	"slices"
	"time"
)

// Colors used by the compiler.
const (
	HighlightColor = "#3737f3"
	CallAlertColor = "red"
	CallMutedColor = "gray"
)

// Style classifies a span.
type Style int

const (
	StylePlain Style = iota
	StyleHighlighted
	StyleCall
)

func (s Style) String() string {
	switch s {
	case StylePlain:
		return "plain"
	case StyleHighlighted:
		return "highlighted"
	case StyleCall:
		return "call"
	default:
		return "unknown"
	}
}

// Span is one rendered word. Color is set for highlighted and call spans.
type Span struct {
	Text  string
	Style Style
	Color string
}

// Line is a main line plus the call sub-line rendered beneath it.
// Break is false only for a final line that was flushed at end of stream.
type Line struct {
	Spans []Span
	Calls []Span
	Break bool
}

// Model is the render model for one (tokens, time) pair.
type Model struct {
	Lines                 []Line
	LinesHighlighted      int
	HighlightedLineBreaks int
}

// Progress is the scroll driver: highlighted lines plus highlighted paragraph gaps.
func (m Model) Progress() int {
	return m.LinesHighlighted + m.HighlightedLineBreaks
}

// Equal reports whether two models are identical.
func (m Model) Equal(o Model) bool {
	if m.LinesHighlighted != o.LinesHighlighted || m.HighlightedLineBreaks != o.HighlightedLineBreaks {
		return false
	}
	return slices.EqualFunc(m.Lines, o.Lines, func(a, b Line) bool {
		return a.Break == b.Break && slices.Equal(a.Spans, b.Spans) && slices.Equal(a.Calls, b.Calls)
	})
}

// compiler is the fold state of a single Compile pass.
type compiler struct {
	now   time.Duration
	model Model

	spans []Span
	calls []Span
	// pending is set once the line in progress has seen any token.
	pending         bool
	lineHighlighted bool
	prevBreakLit    bool
}

// Compile classifies every token against now and assembles the render model.
// It never mutates tokens; a nil or empty stream yields an empty model.
func Compile(tokens []Token, now time.Duration) Model {
	c := compiler{now: now}
	for _, tok := range tokens {
		c.feed(tok)
	}
	if c.pending {
		c.flush(false)
	}
	return c.model
}

func (c *compiler) feed(tok Token) {
	lit := Highlighted(tok, c.now)
	c.pending = true
	c.lineHighlighted = c.lineHighlighted || lit

	if tok.IsBreak() {
		c.flush(true)
		return
	}

	// Any content between two breaks means they are not a paragraph gap.
	c.prevBreakLit = false

	if tok.IsCall {
		c.calls = append(c.calls, callSpan(tok, lit))
		return
	}

	if lit {
		c.spans = append(c.spans, Span{Text: tok.Text, Style: StyleHighlighted, Color: HighlightColor})
	} else {
		c.spans = append(c.spans, Span{Text: tok.Text, Style: StylePlain})
	}
}

// callSpan applies the three-way call color rule.
func callSpan(tok Token, lit bool) Span {
	switch {
	case lit && tok.CallColor != "":
		return Span{Text: tok.Text, Style: StyleCall, Color: tok.CallColor}
	case lit:
		return Span{Text: tok.Text, Style: StyleCall, Color: CallAlertColor}
	default:
		return Span{Text: tok.Text, Style: StyleCall, Color: CallMutedColor}
	}
}

// flush closes the line in progress, either at an explicit break token or at
// end of stream. The bookkeeping is identical for both.
// A break line is highlighted only when its own trigger time has passed, so
// the second break of a paragraph gap is counted when it is reached, not as
// soon as the break before it lights up.
func (c *compiler) flush(explicit bool) {
	prev := c.prevBreakLit
	if c.lineHighlighted {
		c.model.LinesHighlighted++
		c.prevBreakLit = true
		if prev {
			c.model.HighlightedLineBreaks++
		}
	} else {
		c.prevBreakLit = false
	}

	c.model.Lines = append(c.model.Lines, Line{
		Spans: c.spans,
		Calls: c.calls,
		Break: explicit,
	})

	c.spans = nil
	c.calls = nil
	c.pending = false
	c.lineHighlighted = false
}
