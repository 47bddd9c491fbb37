// internal/explorer/scope.go
package explorer

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
)

// Scope decides which URLs a run may enter. A URL is in scope when its host
// is a start host or the organizational domain of one (or any subdomain of
// it, if enabled) and its canonical path matches no excluded pattern.
type Scope struct {
	hosts             map[string]struct{}
	domains           map[string]struct{}
	includeSubdomains bool
	exclude           []glob.Glob
	excludeRaw        []string
}

// NewScope builds the scope from the start URLs.
func NewScope(startURLs []string, includeSubdomains bool, excludePaths []string) (*Scope, error) {
	s := &Scope{
		hosts:             make(map[string]struct{}),
		domains:           make(map[string]struct{}),
		includeSubdomains: includeSubdomains,
	}
	for _, raw := range startURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid start url %q: %v", ErrConfiguration, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%w: start url %q must be http or https", ErrConfiguration, raw)
		}
		domain, err := rootDomain(u.Hostname())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		s.domains[domain] = struct{}{}
		s.hosts[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, p := range excludePaths {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: invalid exclude pattern %q: %v", ErrConfiguration, p, err)
		}
		s.exclude = append(s.exclude, g)
		s.excludeRaw = append(s.excludeRaw, p)
	}
	return s, nil
}

// rootDomain uses the Public Suffix List to find the eTLD+1. IP addresses and
// single label hosts such as localhost are their own domain.
func rootDomain(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("url must have a hostname")
	}
	host = strings.ToLower(host)
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("could not determine effective TLD+1 for %s: %w", host, err)
	}
	return domain, nil
}

// AllowsHost reports whether the URL's host is on an explored site.
func (s *Scope) AllowsHost(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if _, ok := s.hosts[host]; ok {
		return true
	}
	if _, ok := s.domains[host]; ok {
		return true
	}
	if !s.includeSubdomains {
		return false
	}
	for d := range s.domains {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Excluded returns the pattern that excludes canonicalPath, if any.
func (s *Scope) Excluded(canonicalPath string) (string, bool) {
	for i, g := range s.exclude {
		if g.Match(canonicalPath) {
			return s.excludeRaw[i], true
		}
	}
	return "", false
}

// Check returns an ErrOutOfScope error when the state may not enter the graph.
func (s *Scope) Check(rawURL, canonicalPath string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable url %q", ErrOutOfScope, rawURL)
	}
	if !s.AllowsHost(u) {
		return fmt.Errorf("%w: %s is off-site", ErrOutOfScope, u.Host)
	}
	if p, ok := s.Excluded(canonicalPath); ok {
		return fmt.Errorf("%w: %s matches excluded pattern %q", ErrOutOfScope, canonicalPath, p)
	}
	return nil
}
