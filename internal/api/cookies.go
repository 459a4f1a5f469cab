package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// CookiesFrom returns the cookies parsed for the request. The map is never nil.
func CookiesFrom(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(cookiesContextKey).(map[string]string); ok {
		return v
	}
	return map[string]string{}
}

// cookieMiddleware parses Cookie headers into a name/value map before any
// handler runs. A malformed header yields an empty map and is removed from
// the request, so the rest of the chain sees a request without cookies.
func cookieMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies, ok := parseCookieHeader(r.Header.Values("Cookie"))
		if !ok {
			r.Header.Del("Cookie")
		}
		ctx := context.WithValue(r.Context(), cookiesContextKey, cookies)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseCookieHeader(lines []string) (map[string]string, bool) {
	cookies := make(map[string]string)

	var parts []string
	for _, line := range lines {
		for _, part := range strings.Split(line, ";") {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
	}
	if len(parts) == 0 {
		return cookies, true
	}

	parsed, err := http.ParseCookie(strings.Join(parts, "; "))
	if err != nil {
		return map[string]string{}, false
	}

	for _, c := range parsed {
		// First occurrence wins.
		if _, exists := cookies[c.Name]; exists {
			continue
		}
		value := c.Value
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		cookies[c.Name] = value
	}
	return cookies, true
}
