package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrInvalidURL is returned for source URLs that cannot be parsed or have no host
	ErrInvalidURL = errors.New("invalid image url")
	// ErrSchemeNotAllowed is returned for source URLs whose scheme is not permitted
	ErrSchemeNotAllowed = errors.New("url scheme not allowed")
	// ErrDomainNotAllowed is returned for source URLs whose host is denied or not allowed
	ErrDomainNotAllowed = errors.New("url domain not allowed")
)

const maxPatternLength = 256

// Policy decides which source URLs may be fetched
type Policy struct {
	schemes map[string]bool
	allowed []glob.Glob
	denied  []glob.Glob
}

// NewPolicy compiles the scheme allow list and the domain glob patterns.
// An empty allowedDomains list allows every domain that is not denied.
func NewPolicy(schemes, allowedDomains, deniedDomains []string) (*Policy, error) {
	p := &Policy{schemes: make(map[string]bool, len(schemes))}
	for _, s := range schemes {
		p.schemes[strings.ToLower(s)] = true
	}

	var err error
	if p.allowed, err = compilePatterns(allowedDomains); err != nil {
		return nil, fmt.Errorf("invalid allowed domain: %w", err)
	}
	if p.denied, err = compilePatterns(deniedDomains); err != nil {
		return nil, fmt.Errorf("invalid denied domain: %w", err)
	}
	return p, nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		if len(pattern) > maxPatternLength {
			return nil, fmt.Errorf("pattern too long: %q", pattern[:32])
		}
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Check parses rawURL and verifies it against the policy
func (p *Policy) Check(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURL)
	}
	if !p.schemes[scheme] {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotAllowed, scheme)
	}

	// local files have no domain to check
	if scheme == "file" {
		return u, nil
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if !p.AllowsDomain(host) {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotAllowed, host)
	}
	return u, nil
}

// AllowsDomain reports whether host passes the deny list and then the allow list
func (p *Policy) AllowsDomain(host string) bool {
	host = strings.ToLower(host)
	for _, g := range p.denied {
		if g.Match(host) {
			return false
		}
	}
	if len(p.allowed) == 0 {
		return true
	}
	for _, g := range p.allowed {
		if g.Match(host) {
			return true
		}
	}
	return false
}
