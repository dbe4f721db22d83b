package wizard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/scrapewizard/internal/browser"
	"github.com/hazyhaar/scrapewizard/internal/classify"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/llm"
	"github.com/hazyhaar/scrapewizard/internal/scanner"
	"github.com/hazyhaar/scrapewizard/internal/store"
)

// Config is the top-level scrapewizard configuration.
type Config struct {
	Browser browser.Config `yaml:"browser"`
	Scanner ScannerConfig  `yaml:"scanner"`
	Gate    GateConfig     `yaml:"gate"`
	LLM     llm.Config     `yaml:"llm"`
	Codegen CodegenConfig  `yaml:"codegen"`
	Harness HarnessConfig  `yaml:"harness"`
	Output  OutputConfig   `yaml:"output"`
	Store   store.Config   `yaml:"store"`
	Events  EventsConfig   `yaml:"events"`
	Studio  StudioConfig   `yaml:"studio"`

	// AllowPrivateHosts lets sessions target loopback and private
	// addresses, e.g. a staging shop on the LAN.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`

	// CI resolves every gate to its default and turns human suspension
	// points into EnvironmentFailure. Set from the command line.
	CI bool `yaml:"-"`
}

// ScannerConfig tunes the behavioral scan and the hostility model.
type ScannerConfig struct {
	Window             time.Duration `yaml:"window"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	HostilityThreshold int           `yaml:"hostility_threshold"`
	Weights            WeightsConfig `yaml:"weights"`
}

// WeightsConfig overrides hostility weights. Zero keeps the default.
type WeightsConfig struct {
	Vendor   int `yaml:"vendor"`
	SignIn   int `yaml:"sign_in"`
	Captcha  int `yaml:"captcha"`
	AuthHost int `yaml:"auth_host"`
}

// Weights merges the overrides into the defaults.
func (w WeightsConfig) Weights() scanner.Weights {
	d := scanner.DefaultWeights()
	if w.Vendor > 0 {
		d.Vendor = w.Vendor
	}
	if w.SignIn > 0 {
		d.SignIn = w.SignIn
	}
	if w.Captcha > 0 {
		d.Captcha = w.Captcha
	}
	if w.AuthHost > 0 {
		d.AuthHost = w.AuthHost
	}
	return d
}

// GateConfig controls human interaction.
type GateConfig struct {
	// Timeout bounds remote waits (studio/MCP). Zero waits indefinitely.
	Timeout time.Duration `yaml:"timeout"`
}

// CodegenConfig bounds the generation and repair loops.
type CodegenConfig struct {
	MaxRepairAttempts    int `yaml:"max_repair_attempts"`
	MaxGenerationRetries int `yaml:"max_generation_retries"`
	MaxStructuralFixes   int `yaml:"max_structural_fixes"`
}

// HarnessConfig controls artifact execution.
type HarnessConfig struct {
	TestTimeout      time.Duration `yaml:"test_timeout"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
	MaxPagesCap      int           `yaml:"max_pages_cap"`
	QualityThreshold float64       `yaml:"quality_threshold"`
	WaitTimeout      time.Duration `yaml:"wait_timeout"`
	BlockResources   bool          `yaml:"block_resources"`
}

// OutputConfig locates run outputs and bundles.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// EventsConfig selects event sinks beyond the default discard.
type EventsConfig struct {
	Prometheus  bool   `yaml:"prometheus"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	// WebhookURL receives signed transition events. The secret is read
	// from SCRAPEWIZARD_WEBHOOK_SECRET.
	WebhookURL   string   `yaml:"webhook_url"`
	WebhookTypes []string `yaml:"webhook_types"`
}

// StudioConfig configures the HTTP and MCP surface.
type StudioConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("wizard: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scanner.Window <= 0 {
		c.Scanner.Window = 4 * time.Second
	}
	if c.Scanner.SampleInterval <= 0 {
		c.Scanner.SampleInterval = 500 * time.Millisecond
	}
	if c.Scanner.HostilityThreshold <= 0 {
		c.Scanner.HostilityThreshold = gate.DefaultThreshold
	}
	if c.Codegen.MaxRepairAttempts <= 0 {
		c.Codegen.MaxRepairAttempts = 3
	}
	if c.Codegen.MaxGenerationRetries <= 0 {
		c.Codegen.MaxGenerationRetries = 2
	}
	if c.Codegen.MaxStructuralFixes <= 0 {
		c.Codegen.MaxStructuralFixes = 2
	}
	if c.Harness.TestTimeout <= 0 {
		c.Harness.TestTimeout = 90 * time.Second
	}
	if c.Harness.RunTimeout <= 0 {
		c.Harness.RunTimeout = 15 * time.Minute
	}
	if c.Harness.MaxPagesCap <= 0 {
		c.Harness.MaxPagesCap = 50
	}
	if c.Harness.QualityThreshold <= 0 {
		c.Harness.QualityThreshold = classify.DefaultQualityThreshold
	}
	if c.Harness.WaitTimeout <= 0 {
		c.Harness.WaitTimeout = 5 * time.Second
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.Store.Path == "" {
		c.Store.Path = "scrapewizard.db"
	}
	if c.Events.NATSSubject == "" {
		c.Events.NATSSubject = "scrapewizard.events"
	}
	if c.Studio.Addr == "" {
		c.Studio.Addr = "127.0.0.1:8765"
	}
}
