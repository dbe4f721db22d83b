package scanner

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/scrapewizard/harvest"
)

// Request is one network request seen during the window.
type Request struct {
	Method       string
	URL          string
	ResourceType string // CDP resource type: XHR, Fetch, Script, Document, ...
	Status       int
	ContentType  string
}

// Observation is the raw material of a scan, collected live or built by hand.
type Observation struct {
	URL            string
	HTML           string
	Window         time.Duration
	SampleInterval time.Duration
	NodeSamples    []int
	Mutations      int
	Requests       []Request
	Cookies        []string
	Headers        map[string]string // lowercase name -> last value seen
}

// wallTextLimit separates a sign-in wall from a page that merely links to
// its login form.
const wallTextLimit = 2000

// Analyze turns an observation into a profile. It is pure.
func Analyze(obs *Observation, w Weights) *harvest.ScanProfile {
	dom := readDOM(obs.HTML)
	sp := &harvest.ScanProfile{
		PageURL:          obs.URL,
		WindowMillis:     obs.Window.Milliseconds(),
		FrameworkSignals: dom.frameworks,
		SPAShell:         dom.spaShell(),
		PaginationHint:   dom.nextHint,
	}
	if u, err := url.Parse(obs.URL); err == nil {
		sp.Host = u.Hostname()
	}

	secs := obs.Window.Seconds()
	if secs > 0 {
		delta := 0
		for i := 1; i < len(obs.NodeSamples); i++ {
			d := obs.NodeSamples[i] - obs.NodeSamples[i-1]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		sp.NodeCountDeltaRate = float64(delta) / secs
		sp.MutationRate = float64(obs.Mutations) / secs
	}

	sp.NetworkCalls = apiCalls(obs.Requests)
	sp.BotDefenseSignals = vendors(obs, dom)

	captcha := dom.captcha
	for _, r := range obs.Requests {
		if f := containsAny(r.URL, captchaScripts); f != "" {
			captcha = append(captcha, "request:"+f)
		}
	}
	if strings.Contains(strings.ToLower(dom.title), "captcha") {
		captcha = append(captcha, "title")
	}
	sp.CaptchaIndicators = dedupe(captcha)
	sp.CaptchaDetected = len(sp.CaptchaIndicators) > 0

	if isLoginURL(obs.URL) {
		dom.signIn[indLoginURL] = true
	}
	sp.SignIn = signIn(dom)
	sp.AuthHeavyHost = IsAuthHeavy(sp.Host)
	sp.HostilityScore = w.Score(len(sp.BotDefenseSignals), sp.SignIn.Detected, sp.CaptchaDetected, sp.AuthHeavyHost)
	return sp
}

func apiCalls(reqs []Request) []harvest.NetworkCall {
	var out []harvest.NetworkCall
	seen := map[string]bool{}
	for _, r := range reqs {
		lu := strings.ToLower(r.URL)
		kind := ""
		switch {
		case strings.Contains(lu, "graphql"):
			kind = "graphql"
		case strings.EqualFold(r.ResourceType, "xhr"):
			kind = "xhr"
		case strings.EqualFold(r.ResourceType, "fetch"):
			kind = "fetch"
		case strings.Contains(lu, "/api/"):
			kind = "fetch"
		default:
			continue
		}
		key := r.Method + " " + r.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, harvest.NetworkCall{
			Method:      r.Method,
			URL:         r.URL,
			Kind:        kind,
			Status:      r.Status,
			ContentType: r.ContentType,
		})
	}
	return out
}

func vendors(obs *Observation, dom *domSignals) []string {
	var out []string
	for _, v := range Vendors {
		if matchVendor(v, obs, dom) {
			out = append(out, v.Name)
		}
	}
	return out
}

func matchVendor(v Vendor, obs *Observation, dom *domSignals) bool {
	for _, c := range obs.Cookies {
		lc := strings.ToLower(c)
		for _, p := range v.Cookies {
			if strings.HasPrefix(lc, p) {
				return true
			}
		}
	}
	for _, h := range v.Headers {
		if _, ok := obs.Headers[h]; ok {
			return true
		}
	}
	for _, s := range dom.scripts {
		if containsAny(s, v.Scripts) != "" {
			return true
		}
	}
	for _, r := range obs.Requests {
		if containsAny(r.URL, v.Scripts) != "" {
			return true
		}
	}
	if len(v.Markers) > 0 {
		if containsAny(dom.title, v.Markers) != "" {
			return true
		}
		for _, id := range dom.ids {
			for _, m := range v.Markers {
				if id == m {
					return true
				}
			}
		}
	}
	return false
}

// signIn applies the detection rule: a password field, a login URL or a
// login form is enough on its own; otherwise two distinct indicator kinds
// are needed on a page too thin to be worth scraping without logging in.
func signIn(dom *domSignals) harvest.SignInSignal {
	var kinds []string
	for k := range dom.signIn {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	s := harvest.SignInSignal{Indicators: kinds}
	switch {
	case dom.signIn[indPassword], dom.signIn[indLoginURL], dom.signIn[indLoginForm]:
		s.Detected = true
	case len(kinds) >= 2 && dom.textBytes < wallTextLimit:
		s.Detected = true
	}
	return s
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
