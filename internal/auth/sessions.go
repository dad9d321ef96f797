package auth

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SessionCookieName is the cookie the backend issues on login.
const SessionCookieName = "jwt"

// NewCookieJar returns the jar shared by the REST client and the realtime dialer
// so both carry the same session.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func SessionCookie(jar http.CookieJar, u *url.URL) (string, bool) {
	if jar == nil || u == nil {
		return "", false
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == SessionCookieName && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

func ClearSessionCookie(jar http.CookieJar, u *url.URL) {
	if jar == nil || u == nil {
		return
	}
	jar.SetCookies(u, []*http.Cookie{{
		Name:    SessionCookieName,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	}})
}
