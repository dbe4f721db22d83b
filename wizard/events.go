package wizard

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/scrapewizard/internal/store"
)

// Event types.
const (
	EventTransition = "transition"
	EventScan       = "scan"
	EventGate       = "gate"
	EventViolation  = "contract_violation"
	EventGenRetry   = "generation_retry"
	EventClassified = "classified"
	EventRepair     = "repair"
	EventRun        = "run"
)

// Event is one structured diagnostic from the controller.
type Event struct {
	Time    time.Time      `json:"time"`
	Session string         `json:"session_id"`
	Type    string         `json:"type"`
	Phase   Phase          `json:"phase"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventSink receives controller events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Multi fans an event out to several sinks.
type Multi []EventSink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Expert renders events as a colored trace for the --expert flag.
type Expert struct {
	mu  sync.Mutex
	out io.Writer

	phase lipgloss.Style
	kind  lipgloss.Style
	key   lipgloss.Style
	warn  lipgloss.Style
}

// NewExpert writes the trace to out.
func NewExpert(out io.Writer) *Expert {
	return &Expert{
		out:   out,
		phase: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		kind:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		key:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func (x *Expert) Emit(e Event) {
	kind := x.kind
	if e.Type == EventViolation || e.Type == EventClassified || e.Type == EventGenRetry {
		kind = x.warn
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(x.phase.Render(fmt.Sprintf("%-17s", e.Phase)))
	b.WriteString(" ")
	b.WriteString(kind.Render(e.Type))

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s%v", x.key.Render(k+"="), e.Fields[k])
	}
	b.WriteString("\n")

	x.mu.Lock()
	io.WriteString(x.out, b.String())
	x.mu.Unlock()
}

// Metrics counts events into Prometheus collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	repairs     *prometheus.CounterVec
	violations  prometheus.Counter
	gates       *prometheus.CounterVec
	records     prometheus.Counter
	hostility   prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scrapewizard", Name: "phase_transitions_total",
			Help: "Phase transitions by source and destination.",
		}, []string{"from", "to"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scrapewizard", Name: "repair_attempts_total",
			Help: "Numbered repair attempts by error kind.",
		}, []string{"kind"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapewizard", Name: "contract_violations_total",
			Help: "Generated artifacts rejected by the contract check.",
		}),
		gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scrapewizard", Name: "gate_resolutions_total",
			Help: "Decision gate resolutions by gate and value.",
		}, []string{"gate", "value"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapewizard", Name: "records_extracted_total",
			Help: "Records kept across all runs.",
		}),
		hostility: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scrapewizard", Name: "hostility_score",
			Help:    "Hostility scores of scanned pages.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.transitions, m.repairs, m.violations, m.gates, m.records, m.hostility)
	return m
}

func (m *Metrics) Emit(e Event) {
	switch e.Type {
	case EventTransition:
		m.transitions.WithLabelValues(str(e.Fields["from"]), str(e.Fields["to"])).Inc()
	case EventRepair:
		m.repairs.WithLabelValues(str(e.Fields["kind"])).Inc()
	case EventViolation:
		m.violations.Inc()
	case EventGate:
		m.gates.WithLabelValues(str(e.Fields["gate"]), str(e.Fields["value"])).Inc()
	case EventRun:
		if n, ok := e.Fields["records"].(int); ok {
			m.records.Add(float64(n))
		}
	case EventScan:
		if n, ok := e.Fields["hostility"].(int); ok {
			m.hostility.Observe(float64(n))
		}
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// JournalSink records events in the session store's journal.
type JournalSink struct {
	j *store.Journal
}

// NewJournalSink writes through j. The caller closes j.
func NewJournalSink(j *store.Journal) *JournalSink {
	return &JournalSink{j: j}
}

func (s *JournalSink) Emit(e Event) {
	var fields json.RawMessage
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err == nil {
			fields = b
		}
	}
	s.j.Append(store.Event{Session: e.Session, Type: e.Type, Phase: string(e.Phase), Fields: fields, Time: e.Time})
}

// NATSSink publishes events as JSON on <prefix>.<type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// NewNATSSink connects to url. An empty url selects nats.DefaultURL.
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = "scrapewizard.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("scrapewizard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("wizard: nats connect: %w", err)
	}
	return &NATSSink{nc: nc, prefix: prefix, log: logger}, nil
}

func (n *NATSSink) Emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		n.log.Warn("wizard: nats encode", "type", e.Type, "error", err)
		return
	}
	if err := n.nc.Publish(n.prefix+"."+e.Type, data); err != nil {
		n.log.Warn("wizard: nats publish", "type", e.Type, "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (n *NATSSink) Close() error {
	err := n.nc.Flush()
	n.nc.Close()
	return err
}
