package probe

import (
	"fmt"
	"net/url"
	"strings"
)

// Default monitored site.
const (
	DefaultHost       = "shop.amul.com"
	DefaultPathMarker = "/product/"
)

// Validator decides whether a URL points at a monitored product page.
type Validator struct {
	Host       string
	PathMarker string
}

// NewValidator returns a Validator, filling blanks with the defaults.
func NewValidator(host, marker string) Validator {
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	if strings.TrimSpace(marker) == "" {
		marker = DefaultPathMarker
	}
	return Validator{Host: strings.ToLower(host), PathMarker: marker}
}

// IsValidURL reports whether raw is an http(s) URL on the monitored host whose
// path contains the product marker.
func (v Validator) IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Hostname(), v.Host) && strings.Contains(u.Path, v.PathMarker)
}

// IsValidURL checks raw against the default monitored host.
func IsValidURL(raw string) bool {
	return NewValidator("", "").IsValidURL(raw)
}

// NormalizeURL trims whitespace, lowercases scheme and host, and drops the
// fragment so the same page always maps to the same store key.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	u.Fragment = ""
	return u.String(), nil
}
