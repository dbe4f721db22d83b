package guard

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
)

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		url          string
		allowPrivate bool
		want         error
		wantErr      bool
	}{
		{url: "https://shop.example.com/list?page=1"},
		{url: "http://example.com"},
		{url: "  https://example.com/  "},
		{url: "ftp://example.com/data", want: ErrUnsafeScheme},
		{url: "javascript:alert(1)", want: ErrUnsafeScheme},
		{url: "file:///etc/passwd", want: ErrUnsafeScheme},
		{url: "https:///path", wantErr: true},
		{url: "https://user:pw@example.com/", wantErr: true},
		{url: "http://127.0.0.1:8080/", want: ErrPrivateHost},
		{url: "http://192.168.1.10/catalog", want: ErrPrivateHost},
		{url: "http://[::1]/", want: ErrPrivateHost},
		{url: "http://127.0.0.1:8080/", allowPrivate: true},
		{url: "http://localhost:3000/", want: ErrPrivateHost},
		{url: "http://app.LOCALHOST/", want: ErrPrivateHost},
		{url: "http://localhost:3000/", allowPrivate: true},
		{url: "http://intranet.corp/"}, // names are not resolved
	}
	for _, tt := range tests {
		_, err := ValidateTarget(tt.url, tt.allowPrivate)
		switch {
		case tt.want != nil:
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateTarget(%q) = %v, want %v", tt.url, err, tt.want)
			}
		case tt.wantErr:
			if err == nil {
				t.Errorf("ValidateTarget(%q): expected error", tt.url)
			}
		default:
			if err != nil {
				t.Errorf("ValidateTarget(%q): %v", tt.url, err)
			}
		}
	}
}

func TestIsPrivate(t *testing.T) {
	for _, s := range []string{"10.1.2.3", "172.20.0.1", "169.254.1.1", "fd00::1", "0.0.0.0"} {
		if !IsPrivate(net.ParseIP(s)) {
			t.Errorf("IsPrivate(%s) = false", s)
		}
	}
	for _, s := range []string{"8.8.8.8", "172.32.0.1", "2001:4860:4860::8888"} {
		if IsPrivate(net.ParseIP(s)) {
			t.Errorf("IsPrivate(%s) = true", s)
		}
	}
}

func TestValidateSessionID(t *testing.T) {
	good := []string{"sess_0190f3c1-7a2b-7c3d-8e4f-0123456789ab", "abc"}
	for _, id := range good {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("ValidateSessionID(%q): %v", id, err)
		}
	}
	bad := []string{"", "../etc", "sess 1", "a/b", "x.y"}
	for _, id := range bad {
		if err := ValidateSessionID(id); !errors.Is(err, ErrBadID) {
			t.Errorf("ValidateSessionID(%q) = %v, want ErrBadID", id, err)
		}
	}
}

func TestSafePath(t *testing.T) {
	base := filepath.Join("data", "output")
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"sess_123", false},
		{"sess_123/test", false},
		{"../etc/passwd", true},
		{"a/../../outside", true},
		{"", true},
	}
	for _, tt := range tests {
		p, err := SafePath(base, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q) error=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
		if err == nil && filepath.Dir(p) != base && filepath.Dir(filepath.Dir(p)) != base {
			t.Errorf("SafePath(%q) = %q, outside %q", tt.name, p, base)
		}
	}
}
