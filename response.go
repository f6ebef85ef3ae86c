package main

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Reply writes JSON API responses. Every reply carries Content-Type, the
// optional X-Cache-Status, and the rate limit tier the request was admitted under.
type Reply struct {
	w      http.ResponseWriter
	r      *http.Request
	status int
	cache  string
}

func Respond(w http.ResponseWriter, r *http.Request) *Reply {
	return &Reply{w: w, r: r, status: http.StatusOK}
}

// Cache sets X-Cache-Status (HIT or MISS).
func (rp *Reply) Cache(status string) *Reply {
	rp.cache = status
	return rp
}

func (rp *Reply) Status(code int) *Reply {
	rp.status = code
	return rp
}

// JSON sends body with the configured status.
func (rp *Reply) JSON(body any) error {
	h := rp.w.Header()
	h.Set("Content-Type", "application/json")
	if rp.cache != "" {
		h.Set("X-Cache-Status", rp.cache)
	}
	if tier, _ := rp.r.Context().Value(rateLimitTypeKey).(string); tier != "" {
		h.Set("X-RateLimit-Type", tier)
	}
	if rp.status != http.StatusOK {
		rp.w.WriteHeader(rp.status)
	}
	return json.NewEncoder(rp.w).Encode(body)
}

// Fail sends {"error": message} with code.
func (rp *Reply) Fail(code int, format string, args ...any) error {
	return rp.Status(code).JSON(map[string]string{"error": fmt.Sprintf(format, args...)})
}
