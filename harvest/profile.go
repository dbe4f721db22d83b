// Package harvest defines the data types exchanged between the scrapewizard
// components. Any consumer (the CLI, the studio API, external tooling)
// imports this package to read scan profiles, verdicts, and run results.
package harvest

// ScanProfile is the immutable result of one behavioral scan.
// A new scan produces a new profile; profiles are never mutated.
type ScanProfile struct {
	PageURL            string        `json:"page_url"`
	Host               string        `json:"host"`
	NodeCountDeltaRate float64       `json:"node_count_delta_rate"` // mean |Δnodes| per second
	MutationRate       float64       `json:"mutation_rate"`         // mutation records per second
	NetworkCalls       []NetworkCall `json:"network_calls"`
	FrameworkSignals   []string      `json:"framework_signals"`
	BotDefenseSignals  []string      `json:"bot_defense_signals"` // vendor names
	SignIn             SignInSignal  `json:"sign_in"`
	CaptchaDetected    bool          `json:"captcha_detected"`
	CaptchaIndicators  []string      `json:"captcha_indicators,omitempty"`
	AuthHeavyHost      bool          `json:"auth_heavy_host"`
	SPAShell           bool          `json:"spa_shell"`
	PaginationHint     string        `json:"pagination_hint,omitempty"` // selector of a next control
	HostilityScore     int           `json:"hostility_score"`            // 0–100
	WindowMillis       int64         `json:"window_ms"`
}

// NetworkCall is an intercepted XHR, fetch, or GraphQL request.
type NetworkCall struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	Kind        string `json:"kind"` // xhr | fetch | graphql
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// SignInSignal reports whether the page asks for authentication.
type SignInSignal struct {
	Detected   bool     `json:"detected"`
	Indicators []string `json:"indicators,omitempty"`
}

// Stable reports whether the DOM converged during the window.
func (p *ScanProfile) Stable() bool {
	return p.NodeCountDeltaRate < 1
}

// HasAPI reports whether content appears to be API-backed.
func (p *ScanProfile) HasAPI() bool {
	return len(p.NetworkCalls) > 0
}
