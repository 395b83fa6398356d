package http

import (
	"net/http"
	"time"

	"github.com/dreadwing5/Restore/internal/identity"
)

const (
	BasketCookieName = "basketId"
	BasketCookieTTL  = 30 * 24 * time.Hour
)

// CookieChannel carries the basket token in an essential, HttpOnly cookie.
type CookieChannel struct {
	Name   string
	TTL    time.Duration
	Secure bool
	now    func() time.Time
}

var _ identity.Channel = (*CookieChannel)(nil)

func NewCookieChannel(secure bool) *CookieChannel {
	return &CookieChannel{
		Name:   BasketCookieName,
		TTL:    BasketCookieTTL,
		Secure: secure,
		now:    time.Now,
	}
}

func (c *CookieChannel) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c *CookieChannel) Issue(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		Expires:  c.now().Add(c.TTL),
		MaxAge:   int(c.TTL / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
