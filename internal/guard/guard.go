// Package guard validates operator input before it reaches the browser or
// the filesystem: target URLs, session IDs, and bundle paths.
package guard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal is returned when a name escapes its base directory.
	ErrPathTraversal = errors.New("guard: path traversal detected")
	// ErrPrivateHost is returned for literal private or loopback targets.
	ErrPrivateHost = errors.New("guard: target is a private or loopback address")
	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("guard: only http and https targets are allowed")
	// ErrBadID is returned for malformed session IDs.
	ErrBadID = errors.New("guard: invalid session id")
)

var privateRanges = mustCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16", "fc00::/7")

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// ValidateTarget checks a page URL: http or https, a host, no credentials
// in the URL. localhost and literal private or loopback IPs are refused
// unless allowPrivate is set. Hostnames are not resolved.
func ValidateTarget(raw string, allowPrivate bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("guard: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("guard: URL %q has no host", raw)
	}
	if u.User != nil {
		return nil, fmt.Errorf("guard: URL %q carries credentials", u.Redacted())
	}
	if allowPrivate {
		return u, nil
	}
	if h := strings.ToLower(host); h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return nil, ErrPrivateHost
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivate(ip) {
		return nil, ErrPrivateHost
	}
	return u, nil
}

// IsPrivate reports loopback, link-local, RFC 1918, and ULA addresses.
func IsPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateSessionID accepts IDs made of letters, digits, '_' and '-'.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > 128 {
		return ErrBadID
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return fmt.Errorf("%w: %q", ErrBadID, id)
		}
	}
	return nil
}

// SafePath joins name under base and fails if the result leaves base.
func SafePath(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	base = filepath.Clean(base)
	p := filepath.Join(base, filepath.Clean("/"+name))
	if p != base && !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return p, nil
}
