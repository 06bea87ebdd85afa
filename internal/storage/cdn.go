package storage

import "strings"

// CDN maps object keys to public URLs. It does no I/O.
type CDN struct {
	base string
}

// NewCDN accepts a bare domain ("d123.cloudfront.net") or a full base URL.
func NewCDN(domain string) CDN {
	base := strings.TrimRight(domain, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return CDN{base: base}
}

// KeyToPublicURL returns the absolute URL for key.
func (c CDN) KeyToPublicURL(key string) string {
	return c.base + "/" + strings.TrimLeft(key, "/")
}
