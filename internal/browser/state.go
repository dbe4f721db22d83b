package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// Cookie is the serialisable subset of a CDP cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// State is the credential material captured after a guided access: the
// cookies plus the origin's local and session storage.
type State struct {
	URL     string            `json:"url"`
	Cookies []Cookie          `json:"cookies"`
	Local   map[string]string `json:"local,omitempty"`
	Session map[string]string `json:"session,omitempty"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s *State) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Local) == 0 && len(s.Session) == 0)
}

// Encode serialises the state for storage.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses bytes produced by Encode. Empty input yields nil.
func DecodeState(b []byte) (*State, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("browser: decode state: %w", err)
	}
	return &s, nil
}

const captureStorageJS = `() => {
	const dump = (s) => {
		const out = {};
		try {
			for (let i = 0; i < s.length; i++) {
				const k = s.key(i);
				out[k] = s.getItem(k);
			}
		} catch (e) {}
		return out;
	};
	return { local: dump(window.localStorage), session: dump(window.sessionStorage) };
}`

const restoreStorageJS = `(local, session) => {
	try {
		for (const [k, v] of Object.entries(local || {})) window.localStorage.setItem(k, v);
		for (const [k, v] of Object.entries(session || {})) window.sessionStorage.setItem(k, v);
	} catch (e) {}
}`

// Capture reads cookies and web storage from the tab.
func (t *Tab) Capture(ctx context.Context) (*State, error) {
	page := t.Page.Context(ctx)
	raw, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies: %w", err)
	}
	st := &State{URL: t.CurrentURL(), Cookies: make([]Cookie, 0, len(raw))}
	for _, c := range raw {
		st.Cookies = append(st.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	res, err := page.Eval(captureStorageJS)
	if err != nil {
		return nil, fmt.Errorf("browser: read storage: %w", err)
	}
	st.Local = storageMap(res.Value.Get("local"))
	st.Session = storageMap(res.Value.Get("session"))
	return st, nil
}

// Restore applies the state to the tab. Cookies go in first; web storage
// is written on the page's current origin, so the tab should already be on
// the target site.
func (t *Tab) Restore(ctx context.Context, st *State) error {
	if st.Empty() {
		return nil
	}
	page := t.Page.Context(ctx)

	params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	if len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("browser: set cookies: %w", err)
		}
	}

	if len(st.Local) > 0 || len(st.Session) > 0 {
		if _, err := page.Eval(restoreStorageJS, st.Local, st.Session); err != nil {
			return fmt.Errorf("browser: write storage: %w", err)
		}
	}
	return nil
}

func storageMap(v gson.JSON) map[string]string {
	if v.Nil() {
		return nil
	}
	m := v.Map()
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, x := range m {
		out[k] = x.Str()
	}
	return out
}
