// Package scanner observes a loaded page over a short window and scores
// how hostile it is to automated access.
//
// Observation and scoring are split: Observe drives the live page, Analyze
// is a pure function over the collected Observation.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/scrapewizard/harvest"
)

// Config configures a scan.
type Config struct {
	// Window is the observation duration. Default: 4s.
	Window time.Duration
	// SampleInterval is the node-count sampling period. Default: 500ms.
	SampleInterval time.Duration
	Weights        Weights
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 4 * time.Second
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 500 * time.Millisecond
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner runs behavioral scans. Scans against one page must not overlap.
type Scanner struct {
	cfg Config
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{cfg: cfg}
}

// Scan observes page for the configured window and returns its profile.
// When load is non-nil it is called once the network listeners are in
// place, so the response headers of the navigation itself are seen.
func (s *Scanner) Scan(ctx context.Context, page *rod.Page, load func(context.Context) error) (*harvest.ScanProfile, error) {
	obs, err := Observe(ctx, page, load, s.cfg.Window, s.cfg.SampleInterval)
	if err != nil {
		return nil, err
	}
	sp := Analyze(obs, s.cfg.Weights)
	s.cfg.Logger.Info("scanner: complete",
		"url", sp.PageURL,
		"hostility", sp.HostilityScore,
		"vendors", sp.BotDefenseSignals,
		"sign_in", sp.SignIn.Detected,
		"captcha", sp.CaptchaDetected,
		"api_calls", len(sp.NetworkCalls),
		"frameworks", sp.FrameworkSignals)
	return sp, nil
}

const mutationScript = `(ms) => new Promise((resolve) => {
	let count = 0;
	const obs = new MutationObserver((m) => { count += m.length; });
	obs.observe(document.documentElement, {
		childList: true, attributes: true, characterData: true, subtree: true
	});
	setTimeout(() => { obs.disconnect(); resolve(count); }, ms);
})`

const nodeCountScript = `() => document.getElementsByTagName('*').length`

// recorder accumulates network events into an Observation.
type recorder struct {
	mu      sync.Mutex
	obs     *Observation
	pending map[proto.NetworkRequestID]int
}

func newRecorder(obs *Observation) *recorder {
	return &recorder{obs: obs, pending: map[proto.NetworkRequestID]int{}}
}

func (r *recorder) request(e *proto.NetworkRequestWillBeSent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[e.RequestID] = len(r.obs.Requests)
	r.obs.Requests = append(r.obs.Requests, Request{
		Method:       e.Request.Method,
		URL:          e.Request.URL,
		ResourceType: string(e.Type),
	})
}

func (r *recorder) response(e *proto.NetworkResponseReceived) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range e.Response.Headers {
		r.obs.Headers[strings.ToLower(k)] = v.Str()
	}
	if i, ok := r.pending[e.RequestID]; ok {
		r.obs.Requests[i].Status = e.Response.Status
		r.obs.Requests[i].ContentType = e.Response.MIMEType
	}
}

// Observe collects network, mutation, and node-count signals. Network
// listeners are attached first, then load (if any) navigates the page,
// then mutations and node counts are sampled for window. Observe returns
// once the window has elapsed and every listener has stopped.
func Observe(ctx context.Context, page *rod.Page, load func(context.Context) error, window, interval time.Duration) (*Observation, error) {
	p := page.Context(ctx)
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("scanner: network enable: %w", err)
	}

	obs := &Observation{Window: window, SampleInterval: interval, Headers: map[string]string{}}
	rec := newRecorder(obs)

	nctx, stopNet := context.WithCancel(ctx)
	wait := page.Context(nctx).EachEvent(rec.request, rec.response)
	netDone := make(chan struct{})
	go func() {
		defer close(netDone)
		wait()
	}()
	defer func() {
		stopNet()
		<-netDone
	}()

	if load != nil {
		if err := load(ctx); err != nil {
			return nil, err
		}
	}

	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	g, gctx := errgroup.WithContext(wctx)

	g.Go(func() error {
		res, err := page.Context(ctx).Eval(mutationScript, window.Milliseconds())
		if err != nil {
			return fmt.Errorf("scanner: mutation observer: %w", err)
		}
		rec.mu.Lock()
		obs.Mutations = res.Value.Int()
		rec.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if res, err := page.Context(gctx).Eval(nodeCountScript); err == nil {
				rec.mu.Lock()
				obs.NodeSamples = append(obs.NodeSamples, res.Value.Int())
				rec.mu.Unlock()
			}
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stopNet()
	<-netDone

	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("scanner: page info: %w", err)
	}
	obs.URL = info.URL

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("scanner: html: %w", err)
	}
	obs.HTML = html

	cookies, err := p.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("scanner: cookies: %w", err)
	}
	for _, c := range cookies {
		obs.Cookies = append(obs.Cookies, c.Name)
	}
	return obs, nil
}
