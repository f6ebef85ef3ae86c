package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	"github.com/dhowden/tag"
	log "github.com/sirupsen/logrus"
)

const metaSuffix = ".meta.json"

// MediaPrefix is the URL prefix under which audio files found next to lyric
// files are served.
const MediaPrefix = "/media/"

var audioExtensions = []string{".mp3", ".m4a", ".flac", ".ogg"}

// IsAudioFile reports whether name has one of the served audio extensions.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range audioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// songMeta is the sidecar record for lyric formats that carry no catalog
// fields of their own.
type songMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Group     string `json:"group"`
	GroupID   string `json:"groupId"`
	Color     string `json:"color"`
	AudioFile string `json:"audioFile"`
	Embedded  string `json:"embedded"`
}

// LoadDir reads every song file in dir. Files that fail to parse are logged
// and skipped; only an unreadable directory is an error.
func LoadDir(dir string) ([]lyrics.Song, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read songs directory: %w", err)
	}

	var songs []lyrics.Song
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".ttml", ".lrc":
		default:
			continue
		}

		song, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warnf("%s Skipping %s: %v", logcolors.LogCatalogLoad, name, err)
			continue
		}
		songs = append(songs, song)
	}

	log.Infof("%s Loaded %d songs from %s", logcolors.LogCatalogLoad, len(songs), dir)
	return songs, nil
}

func loadFile(path string) (lyrics.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lyrics.Song{}, err
	}

	var song lyrics.Song
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &song); err != nil {
			return lyrics.Song{}, err
		}
	case ".ttml":
		tokens, err := parseTTML(data)
		if err != nil {
			return lyrics.Song{}, err
		}
		song.Lyrics = tokens
		if err := applySidecar(&song, path); err != nil {
			return lyrics.Song{}, err
		}
	case ".lrc":
		tokens, metadata := parseLRC(string(data))
		if len(tokens) == 0 {
			return lyrics.Song{}, fmt.Errorf("no timed lines in LRC")
		}
		song.Lyrics = tokens
		song.Title = metadata["title"]
		song.Group = metadata["artist"]
		if err := applySidecar(&song, path); err != nil {
			return lyrics.Song{}, err
		}
	}

	fillFromAudio(&song, path)
	fillDefaults(&song, path)
	return song, nil
}

// applySidecar overlays <base>.meta.json, when present, onto song.
func applySidecar(song *lyrics.Song, path string) error {
	data, err := os.ReadFile(trimExt(path) + metaSuffix)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var meta songMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("sidecar: %w", err)
	}
	setIfEmpty := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIfEmpty(&song.ID, meta.ID)
	setIfEmpty(&song.Title, meta.Title)
	setIfEmpty(&song.Group, meta.Group)
	setIfEmpty(&song.GroupID, meta.GroupID)
	setIfEmpty(&song.Color, meta.Color)
	setIfEmpty(&song.AudioFile, meta.AudioFile)
	setIfEmpty(&song.Embedded, meta.Embedded)
	return nil
}

// fillFromAudio looks for an audio file with the same base name and uses
// its tags for a missing title or group.
func fillFromAudio(song *lyrics.Song, path string) {
	base := trimExt(path)
	for _, ext := range audioExtensions {
		audioPath := base + ext
		f, err := os.Open(audioPath)
		if err != nil {
			continue
		}
		m, err := tag.ReadFrom(f)
		f.Close()

		if song.AudioFile == "" {
			song.AudioFile = MediaPrefix + filepath.Base(audioPath)
		}
		if err != nil {
			log.Debugf("%s No tags in %s: %v", logcolors.LogCatalogLoad, audioPath, err)
			return
		}
		if song.Title == "" {
			song.Title = m.Title()
		}
		if song.Group == "" {
			song.Group = m.Artist()
		}
		return
	}
}

func fillDefaults(song *lyrics.Song, path string) {
	name := filepath.Base(trimExt(path))
	if song.ID == "" {
		song.ID = Slug(name)
	}
	if song.Title == "" {
		song.Title = name
	}
	if song.GroupID == "" && song.Group != "" {
		song.GroupID = Slug(song.Group)
	}
}

func trimExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Slug lowercases s and joins its letters and digits with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
