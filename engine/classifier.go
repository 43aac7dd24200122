package engine

import (
	"net/url"
	"strings"
)

// Classifier decides whether a URL still belongs to the aggregator.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	hosts []string
}

// NewClassifier returns a Classifier for the given aggregator hosts.
// Hosts are matched case-insensitively, and subdomains of a host match too.
func NewClassifier(hosts ...string) *Classifier {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &Classifier{hosts: normalized}
}

// IsWrapper reports whether rawURL's host is one of the aggregator hosts.
// Unparsable or host-less input is never a wrapper.
func (c *Classifier) IsWrapper(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, h := range c.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// IsExternal reports whether rawURL is an absolute http(s) URL outside
// the aggregator, i.e. an acceptable resolution target.
func (c *Classifier) IsExternal(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return !c.IsWrapper(rawURL)
}

// hostOf returns the lower-cased hostname without port or trailing dot.
func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// resolveReference resolves ref against base. It returns ref unchanged
// when base is unusable, and "" when ref is empty or malformed.
func resolveReference(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return refURL.String()
	}
	return baseURL.ResolveReference(refURL).String()
}
