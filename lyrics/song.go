package lyrics

// Song is the token stream record served by the catalog and consumed by a
// sync session.
type Song struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Group     string  `json:"group"`
	GroupID   string  `json:"groupId"`
	Color     string  `json:"color,omitempty"`
	AudioFile string  `json:"audioFile"`
	Embedded  string  `json:"embedded,omitempty"`
	Lyrics    []Token `json:"lyrics"`
}

// Summary is the index form of a song, without lyrics, audio or embed markup.
type Summary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Group   string `json:"group"`
	GroupID string `json:"groupId"`
	Color   string `json:"color,omitempty"`
}

// Summary returns the index form of s.
func (s *Song) Summary() Summary {
	return Summary{
		ID:      s.ID,
		Title:   s.Title,
		Group:   s.Group,
		GroupID: s.GroupID,
		Color:   s.Color,
	}
}
