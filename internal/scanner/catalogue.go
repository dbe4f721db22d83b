package scanner

import (
	"net/url"
	"regexp"
	"strings"
)

// Vendor is a named bot-defense product and its fingerprints.
type Vendor struct {
	Name    string
	Cookies []string // cookie name prefixes
	Scripts []string // URL fragments of scripts or requests
	Headers []string // response header names
	Markers []string // DOM ids or title fragments, lowercase
}

// Vendors is the fixed bot-defense catalogue.
var Vendors = []Vendor{
	{
		Name:    "cloudflare",
		Cookies: []string{"__cf_bm", "cf_clearance", "cf_chl_"},
		Scripts: []string{"/cdn-cgi/challenge-platform/", "challenges.cloudflare.com"},
		Headers: []string{"cf-mitigated"},
		Markers: []string{"cf-wrapper", "challenge-form", "just a moment", "attention required! | cloudflare"},
	},
	{
		Name:    "akamai",
		Cookies: []string{"_abck", "bm_sz", "ak_bmsc", "bm_sv"},
		Scripts: []string{"/akam/", "/_sec/cp_challenge"},
		Headers: []string{"akamai-grn"},
	},
	{
		Name:    "datadome",
		Cookies: []string{"datadome"},
		Scripts: []string{"js.datadome.co", "captcha-delivery.com"},
		Headers: []string{"x-datadome", "x-dd-b"},
	},
	{
		Name:    "perimeterx",
		Cookies: []string{"_px", "_pxhd", "_pxvid"},
		Scripts: []string{"client.perimeterx.net", "px-cdn.net", "/px/client"},
		Markers: []string{"px-captcha"},
	},
	{
		Name:    "imperva",
		Cookies: []string{"incap_ses_", "visid_incap_", "reese84", "nlbi_"},
		Scripts: []string{"/_incapsula_resource"},
		Headers: []string{"x-iinfo"},
	},
	{
		Name:    "kasada",
		Cookies: []string{"kp_uidz"},
		Scripts: []string{"/ips.js", "kasada"},
		Headers: []string{"x-kpsdk-ct", "x-kpsdk-c"},
	},
}

// captchaScripts are script, iframe, or request URL fragments.
var captchaScripts = []string{
	"google.com/recaptcha", "recaptcha.net", "gstatic.com/recaptcha",
	"hcaptcha.com", "challenges.cloudflare.com/turnstile",
	"captcha-delivery.com", "arkoselabs.com", "funcaptcha.com",
}

// captchaClasses are class or id fragments of rendered widgets.
var captchaClasses = []string{"g-recaptcha", "h-captcha", "cf-turnstile", "captcha"}

// AuthHeavyHosts always require Guided access.
var AuthHeavyHosts = []string{
	"linkedin.com", "facebook.com", "instagram.com", "x.com", "twitter.com",
	"tiktok.com", "threads.net", "pinterest.com", "reddit.com", "glassdoor.com",
}

// IsAuthHeavy reports whether host is, or is under, an auth-heavy domain.
func IsAuthHeavy(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range AuthHeavyHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

var (
	loginPathPattern = regexp.MustCompile(`(?i)(^|[/_-])(log-?in|sign-?in|signin|auth|connexion|account/login|sso)([/_.?-]|$)`)
	loginTextPattern = regexp.MustCompile(`(?i)^\s*(sign\s*in|log\s*in|login|se connecter|connexion|anmelden|iniciar sesi[oó]n)\b`)
	nextTextPattern  = regexp.MustCompile(`(?i)^\s*(next|next page|suivant|page suivante|weiter|siguiente|›|»|>)\s*$`)
	moreTextPattern  = regexp.MustCompile(`(?i)(load more|show more|voir plus|mehr laden|more results)`)
)

// isLoginURL reports whether the URL path looks like a login page.
func isLoginURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return loginPathPattern.MatchString(u.Path)
}

func containsAny(s string, frags []string) string {
	s = strings.ToLower(s)
	for _, f := range frags {
		if strings.Contains(s, f) {
			return f
		}
	}
	return ""
}
