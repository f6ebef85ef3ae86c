package lyrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedToken is returned when a token record cannot be decoded.
var ErrMalformedToken = errors.New("malformed lyric token")

// Token is the atomic unit of a lyric stream.
// A token with empty Text is a line break: it ends the current line and
// flushes the pending calls beneath it.
type Token struct {
	Text      string
	Trigger   time.Duration
	IsCall    bool
	CallColor string
}

// IsBreak reports whether the token terminates a line.
func (t Token) IsBreak() bool {
	return t.Text == ""
}

// Highlighted is the watermark test: a token is lit once now reaches its trigger time.
func Highlighted(t Token, now time.Duration) bool {
	return now >= t.Trigger
}

// Seconds converts a trigger time expressed in seconds to a Duration,
// rounding to the nearest nanosecond.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// MarshalJSON encodes the token as [text, seconds, isCall?, callColor?],
// omitting trailing optional elements.
func (t Token) MarshalJSON() ([]byte, error) {
	rec := []any{t.Text, t.Trigger.Seconds()}
	if t.IsCall || t.CallColor != "" {
		rec = append(rec, t.IsCall)
	}
	if t.CallColor != "" {
		rec = append(rec, t.CallColor)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the 2-4 element array form.
func (t *Token) UnmarshalJSON(data []byte) error {
	var rec []json.RawMessage
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(rec) < 2 || len(rec) > 4 {
		return fmt.Errorf("%w: expected 2-4 elements, got %d", ErrMalformedToken, len(rec))
	}

	var tok Token
	if !isNull(rec[0]) {
		if err := json.Unmarshal(rec[0], &tok.Text); err != nil {
			return fmt.Errorf("%w: text: %v", ErrMalformedToken, err)
		}
	}

	var secs float64
	if err := json.Unmarshal(rec[1], &secs); err != nil {
		return fmt.Errorf("%w: trigger time: %v", ErrMalformedToken, err)
	}
	if secs < 0 || math.IsNaN(secs) {
		return fmt.Errorf("%w: negative trigger time %v", ErrMalformedToken, secs)
	}
	tok.Trigger = Seconds(secs)

	if len(rec) > 2 && !isNull(rec[2]) {
		if err := json.Unmarshal(rec[2], &tok.IsCall); err != nil {
			return fmt.Errorf("%w: call flag: %v", ErrMalformedToken, err)
		}
	}
	if len(rec) > 3 && !isNull(rec[3]) {
		if err := json.Unmarshal(rec[3], &tok.CallColor); err != nil {
			return fmt.Errorf("%w: call color: %v", ErrMalformedToken, err)
		}
	}

	*t = tok
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
