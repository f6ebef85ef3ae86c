package main

import (
	"lyrics-sync-go/catalog"
	"lyrics-sync-go/lyrics"
)

type contextKey string

const (
	rateLimitTypeKey contextKey = "rateLimitType"
)

// SongListResponse is the response format for /api/songs and /api/groups/{groupId}
type SongListResponse struct {
	Group *catalog.Group   `json:"group,omitempty"`
	Count int              `json:"count"`
	Songs []lyrics.Summary `json:"songs"`
}

// GroupListResponse is the response format for /api/groups
type GroupListResponse struct {
	Count  int             `json:"count"`
	Groups []catalog.Group `json:"groups"`
}

// pageData feeds the HTML templates.
type pageData struct {
	Title   string
	Song    lyrics.Song
	Songs   []lyrics.Summary
	Group   catalog.Group
	Groups  []catalog.Group
	Message string
}
