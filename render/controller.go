package render

import (
	"fmt"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

// Defaults for the scroll policy.
const (
	DefaultLineHeight   = 38
	DefaultContextLines = 5
)

// Surface is a display that accepts fragment patches and a scroll offset.
type Surface interface {
	Patch(ops []Op) error
	Scroll(offset int) error
}

// Controller keeps a Surface in step with successive models. It remembers the
// fragments it last sent and the last scroll progress, so unchanged models
// produce no surface traffic.
type Controller struct {
	surface      Surface
	formatter    Formatter
	lineHeight   int
	contextLines int

	frags        []string
	lastProgress int
	patches      int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLineHeight sets the height of one line in surface units.
func WithLineHeight(h int) ControllerOption {
	return func(c *Controller) {
		if h > 0 {
			c.lineHeight = h
		}
	}
}

// WithContextLines sets how many highlighted lines stay visible above the
// current one before scrolling starts.
func WithContextLines(n int) ControllerOption {
	return func(c *Controller) {
		if n >= 0 {
			c.contextLines = n
		}
	}
}

func NewController(surface Surface, formatter Formatter, opts ...ControllerOption) *Controller {
	c := &Controller{
		surface:      surface,
		formatter:    formatter,
		lineHeight:   DefaultLineHeight,
		contextLines: DefaultContextLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render brings the surface up to date with m. The patch is skipped when the
// markup is unchanged and the scroll is skipped when progress is unchanged.
func (c *Controller) Render(m lyrics.Model) error {
	frags := c.formatter.Format(m)
	if ops := Diff(c.frags, frags); len(ops) > 0 {
		if err := c.surface.Patch(ops); err != nil {
			return fmt.Errorf("patch surface: %w", err)
		}
		log.Debugf("%s Patched %d fragment(s)", logcolors.LogRender, len(ops))
		c.frags = frags
		c.patches++
	}

	return c.scroll(m.Progress())
}

func (c *Controller) scroll(progress int) error {
	if progress == c.lastProgress {
		return nil
	}
	offset := ScrollOffset(progress, c.contextLines, c.lineHeight)
	if err := c.surface.Scroll(offset); err != nil {
		return fmt.Errorf("scroll surface: %w", err)
	}
	c.lastProgress = progress
	return nil
}

// Reset forgets what the surface shows, for when it has been cleared or
// replaced. The next Render sends the full markup.
func (c *Controller) Reset() {
	c.frags = nil
	c.lastProgress = 0
}

// Fragments returns the fragments last sent to the surface.
func (c *Controller) Fragments() []string {
	return c.frags
}

// Patches returns how many patches have been sent.
func (c *Controller) Patches() int {
	return c.patches
}

// ScrollOffset keeps contextLines of already-sung lines in view.
func ScrollOffset(progress, contextLines, lineHeight int) int {
	if progress <= contextLines {
		return 0
	}
	return (progress - contextLines) * lineHeight
}
