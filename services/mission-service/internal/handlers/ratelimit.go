package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/missionwindow/libs/httpx"
)

// Routes whose body names the aircraft being planned.
var resourceWriteRoutes = map[string]bool{
	"/api/v1/missions":          true,
	"/api/v1/missions/validate": true,
	"/api/v1/missions/suggest":  true,
}

// RateLimitKey buckets mission writes by aircraft so one resource cannot be
// hammered from many clients, and everything else by client address. The
// request body is read and put back; run it behind a body limit.
func RateLimitKey(r *http.Request) string {
	if r.Method == http.MethodPost && resourceWriteRoutes[r.URL.Path] && r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}

		var peek struct {
			ResourceID string `json:"resource_id"`
		}
		if json.Unmarshal(raw, &peek) == nil {
			if id := strings.TrimSpace(peek.ResourceID); id != "" {
				return "resource:" + id
			}
		}
	}
	return "client:" + httpx.ClientKey(r)
}
