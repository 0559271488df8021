package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultAllowedDomains is the fixed set of platform domains the crawler is
// permitted to visit automatically. Submissions outside this set fall
// through to admin review instead of being crawled.
var DefaultAllowedDomains = []string{
	"bandcamp.com",
	"soundcloud.com",
	"open.spotify.com",
	"music.apple.com",
	"youtube.com",
	"youtu.be",
}

// Validator enforces the strict URL policy applied before any crawl:
// HTTPS only, allowlisted hosts, and a lexical block on loopback/private
// network targets. It holds no state beyond its configuration.
type Validator struct {
	allowed []string
}

// NewValidator builds a Validator. An empty domain list selects
// DefaultAllowedDomains.
func NewValidator(allowedDomains []string) *Validator {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		domains = DefaultAllowedDomains
	}
	return &Validator{allowed: domains}
}

// Validate parses and checks the URL, returning its canonical form. The
// private-range check is a string-pattern defense, not a DNS resolution;
// it blocks the obvious SSRF targets only.
func (v *Validator) Validate(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", fmt.Errorf("scheme %q is not allowed, https is required", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host")
	}
	if isPrivateHost(host) {
		return "", fmt.Errorf("host %q targets a private or loopback address", host)
	}
	if !v.allowedHost(host) {
		return "", fmt.Errorf("host %q is not on the allowed platform list", host)
	}
	return canonicalize(u), nil
}

func (v *Validator) allowedHost(host string) bool {
	for _, domain := range v.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// isPrivateHost matches localhost, 127.0.0.1, 10/8, 172.16/12, and
// 192.168/16 lexically.
func isPrivateHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return true
	}
	if rest, ok := strings.CutPrefix(host, "172."); ok {
		octet, _, found := strings.Cut(rest, ".")
		if found {
			if n, err := strconv.Atoi(octet); err == nil && n >= 16 && n <= 31 {
				return true
			}
		}
	}
	return false
}

// canonicalize lowercases scheme and host, strips the default port and the
// fragment, and normalizes query encoding.
func canonicalize(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}
