package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookie     = "tally_flash"
	pendingFlashKey = "webPendingFlashes"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string `json:"k"` // info, success, warning, error
	Message string `json:"m"`
}

// addFlash queues a message that survives redirects until a page renders it.
func addFlash(c *gin.Context, kind, msg string) {
	pending := readFlashCookie(c)
	if v, ok := c.Get(pendingFlashKey); ok {
		pending = v.([]Flash)
	}
	pending = append(pending, Flash{Kind: kind, Message: msg})
	c.Set(pendingFlashKey, pending)

	b, _ := json.Marshal(pending)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, base64.RawURLEncoding.EncodeToString(b), 0, "/", "", false, true)
}

// takeFlashes returns queued messages and clears them.
func takeFlashes(c *gin.Context) []Flash {
	var out []Flash
	if v, ok := c.Get(pendingFlashKey); ok {
		out = v.([]Flash)
		c.Set(pendingFlashKey, []Flash(nil))
	} else {
		out = readFlashCookie(c)
	}
	if _, err := c.Cookie(flashCookie); err == nil || len(out) > 0 {
		c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	}
	return out
}

func readFlashCookie(c *gin.Context) []Flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var out []Flash
	if json.Unmarshal(b, &out) != nil {
		return nil
	}
	return out
}
