package scanner

// DefaultThreshold is the policy knob for Guided access. It is a tunable
// constant, not derived from the weights.
const DefaultThreshold = 40

// Weights are the hostility score terms.
type Weights struct {
	Vendor   int // per matched bot-defense vendor
	SignIn   int
	Captcha  int
	AuthHost int // applied regardless of live signals
}

// DefaultWeights returns the standard weights.
func DefaultWeights() Weights {
	return Weights{Vendor: 45, SignIn: 25, Captcha: 30, AuthHost: 85}
}

// Score is the weighted sum clamped to [0,100].
func (w Weights) Score(vendors int, signIn, captcha, authHost bool) int {
	s := vendors * w.Vendor
	if signIn {
		s += w.SignIn
	}
	if captcha {
		s += w.Captcha
	}
	if authHost {
		s += w.AuthHost
	}
	return clamp(s, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
