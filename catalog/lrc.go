package catalog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

var (
	// LRC timestamp pattern: [mm:ss], [mm:ss.xx], [mm:ss.xxx] or [mm:ss:xx]
	lrcTimeRegex = regexp.MustCompile(`^\[(\d+):(\d{2})(?:[.:](\d{1,3}))?\]`)

	// Metadata tags pattern: [tag:value]
	lrcMetadataRegex = regexp.MustCompile(`^\[([a-zA-Z]+):([^\]]*)\]$`)
)

type lrcLine struct {
	at   time.Duration
	text string
}

// parseLRC converts line-timed LRC into tokens: one token per line followed
// by a break. A timed empty line becomes an extra break, so instrumental
// gaps show up as paragraph gaps. Metadata tags (ti, ar, offset) are
// returned alongside.
func parseLRC(content string) ([]lyrics.Token, map[string]string) {
	metadata := make(map[string]string)
	var lines []lrcLine

	for _, rawLine := range strings.Split(content, "\n") {
		rawLine = strings.TrimSpace(rawLine)
		if rawLine == "" {
			continue
		}

		if matches := lrcMetadataRegex.FindStringSubmatch(rawLine); len(matches) == 3 {
			tag := strings.ToLower(matches[1])
			value := strings.TrimSpace(matches[2])
			switch tag {
			case "ar":
				metadata["artist"] = value
			case "ti":
				metadata["title"] = value
			case "al":
				metadata["album"] = value
			case "offset":
				metadata["offset"] = value
			}
			continue
		}

		// a line may carry several timestamps when it repeats
		var stamps []time.Duration
		text := rawLine
		for {
			match := lrcTimeRegex.FindStringSubmatch(text)
			if match == nil {
				break
			}
			stamps = append(stamps, lrcTimestamp(match))
			text = text[len(match[0]):]
		}
		if len(stamps) == 0 {
			log.Debugf("%s Skipping untimed line %q", logcolors.LogLRCParser, rawLine)
			continue
		}

		text = strings.TrimSpace(text)
		for _, at := range stamps {
			lines = append(lines, lrcLine{at: at, text: text})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at < lines[j].at })

	var offset time.Duration
	if ms, err := strconv.Atoi(metadata["offset"]); err == nil {
		// positive offset shifts lyrics earlier
		offset = -time.Duration(ms) * time.Millisecond
	}

	var tokens []lyrics.Token
	for _, line := range lines {
		at := max(line.at+offset, 0)
		if line.text != "" {
			tokens = append(tokens, lyrics.Token{Text: line.text, Trigger: at})
		}
		tokens = append(tokens, lyrics.Token{Trigger: at})
	}
	return tokens, metadata
}

func lrcTimestamp(match []string) time.Duration {
	minutes, _ := strconv.Atoi(match[1])
	seconds, _ := strconv.Atoi(match[2])
	d := time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second

	if frac := match[3]; frac != "" {
		n, _ := strconv.Atoi(frac)
		switch len(frac) {
		case 1:
			d += time.Duration(n) * 100 * time.Millisecond
		case 2:
			d += time.Duration(n) * 10 * time.Millisecond
		default:
			d += time.Duration(n) * time.Millisecond
		}
	}
	return d
}
