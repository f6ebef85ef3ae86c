package catalog

import (
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

// backgroundRole marks backing vocals, which become call tokens.
const backgroundRole = "x-bg"

var tagPattern = regexp.MustCompile(`<[^>]+>`)

type ttmlDocument struct {
	XMLName xml.Name `xml:"tt"`
	Body    struct {
		Divs []ttmlDiv `xml:"div"`
	} `xml:"body"`
}

type ttmlDiv struct {
	SongPart   string          `xml:"songPart,attr"`
	Paragraphs []ttmlParagraph `xml:"p"`
}

type ttmlParagraph struct {
	Begin string     `xml:"begin,attr"`
	End   string     `xml:"end,attr"`
	Spans []ttmlSpan `xml:"span"`
	Inner string     `xml:",innerxml"`
}

type ttmlSpan struct {
	Begin  string     `xml:"begin,attr"`
	End    string     `xml:"end,attr"`
	Role   string     `xml:"role,attr"`
	Text   string     `xml:",chardata"`
	Nested []ttmlSpan `xml:"span"`
}

// parseTTMLTime accepts "h:mm:ss.fff", "mm:ss.fff", "ss.fff" and an
// optional trailing "s".
func parseTTMLTime(value string) (time.Duration, error) {
	value = strings.TrimSuffix(strings.TrimSpace(value), "s")
	parts := strings.Split(value, ":")
	if len(parts) > 3 || value == "" {
		return 0, fmt.Errorf("invalid time format: %q", value)
	}

	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time format: %q", value)
		}
		total = total*60 + n
	}
	return lyrics.Seconds(total), nil
}

// ttmlWord is a timed piece of a paragraph, before syllables are joined.
type ttmlWord struct {
	text  string
	at    time.Duration
	isBg  bool
	glued bool // no whitespace before it in the paragraph text
}

// parseTTML turns a word-timed TTML document into a token stream. Every
// paragraph ends with a break token and every song part boundary adds one
// more, so sections come out as paragraph gaps.
func parseTTML(data []byte) ([]lyrics.Token, error) {
	var doc ttmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TTML XML: %w", err)
	}

	var tokens []lyrics.Token
	for divIdx, div := range doc.Body.Divs {
		log.Debugf("%s Processing div %d (songPart: %s) with %d paragraphs", logcolors.LogTTMLParser, divIdx, div.SongPart, len(div.Paragraphs))

		var lastEnd time.Duration
		for i, para := range div.Paragraphs {
			lineTokens, end, err := paragraphTokens(para)
			if err != nil {
				log.Warnf("%s Skipping paragraph %d: %v", logcolors.LogTTMLParser, i, err)
				continue
			}
			if len(lineTokens) == 0 {
				continue
			}
			tokens = append(tokens, lineTokens...)
			tokens = append(tokens, lyrics.Token{Trigger: end})
			lastEnd = end
		}

		if divIdx < len(doc.Body.Divs)-1 && len(tokens) > 0 {
			tokens = append(tokens, lyrics.Token{Trigger: lastEnd})
		}
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no timed lines in TTML")
	}
	log.Debugf("%s Extracted %d tokens", logcolors.LogTTMLParser, len(tokens))
	return tokens, nil
}

// paragraphTokens returns the tokens of one line and the time its break
// should carry.
func paragraphTokens(para ttmlParagraph) ([]lyrics.Token, time.Duration, error) {
	fullText := strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(para.Inner, "")))

	if len(para.Spans) == 0 {
		// line-timed paragraph
		if fullText == "" {
			return nil, 0, nil
		}
		begin, err := parseTTMLTime(para.Begin)
		if err != nil {
			return nil, 0, err
		}
		end, err := parseTTMLTime(para.End)
		if err != nil {
			end = begin
		}
		return []lyrics.Token{{Text: fullText, Trigger: begin}}, max(begin, end), nil
	}

	var words []ttmlWord
	var latest time.Duration
	cursor := 0
	add := func(span ttmlSpan, isBg bool) {
		text := strings.TrimSpace(span.Text)
		if text == "" {
			return
		}
		at, err := parseTTMLTime(span.Begin)
		if err != nil {
			log.Warnf("%s Failed to parse span start time %s: %v", logcolors.LogTTMLParser, span.Begin, err)
			return
		}
		if end, err := parseTTMLTime(span.End); err == nil {
			latest = max(latest, end)
		}
		latest = max(latest, at)

		glued := false
		if idx := strings.Index(fullText[cursor:], text); idx >= 0 {
			gap := fullText[cursor : cursor+idx]
			glued = cursor > 0 && strings.IndexFunc(gap, unicode.IsSpace) < 0
			cursor += idx + len(text)
		}
		words = append(words, ttmlWord{text: text, at: at, isBg: isBg, glued: glued})
	}

	for _, span := range para.Spans {
		if len(span.Nested) > 0 {
			for _, nested := range span.Nested {
				add(nested, span.Role == backgroundRole || nested.Role == backgroundRole)
			}
			continue
		}
		add(span, span.Role == backgroundRole)
	}

	return joinSyllables(words), latest, nil
}

// joinSyllables merges syllables written without whitespace between them
// into one token timed by the first syllable.
func joinSyllables(words []ttmlWord) []lyrics.Token {
	var tokens []lyrics.Token
	for i, w := range words {
		if i > 0 && w.glued && words[i-1].isBg == w.isBg {
			last := &tokens[len(tokens)-1]
			last.Text += w.text
			continue
		}
		tokens = append(tokens, lyrics.Token{
			Text:    w.text,
			Trigger: w.at,
			IsCall:  w.isBg,
		})
	}
	for i := range tokens {
		if !tokens[i].IsCall {
			continue
		}
		// backing vocals are usually parenthesized; the call line already sets them apart
		if trimmed := strings.Trim(tokens[i].Text, "()"); trimmed != "" {
			tokens[i].Text = trimmed
		}
	}
	return tokens
}
