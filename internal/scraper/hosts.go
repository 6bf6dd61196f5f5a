package scraper

import (
	"net/url"
	"strings"
)

// HostAllowed reports whether rawURL is an absolute http(s) URL whose host
// is one of allowed or a subdomain of one. An entry of "*" allows any host;
// an empty list allows none.
func HostAllowed(rawURL string, allowed []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, e := range allowed {
		e = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), "*."), ".")
		switch {
		case e == "*":
			return true
		case e == "":
			continue
		case host == e || strings.HasSuffix(host, "."+e):
			return true
		}
	}
	return false
}
