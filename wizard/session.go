package wizard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/contract"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/idgen"
)

// Outcome is how a finished session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// RepairAttempt is one numbered repair request.
type RepairAttempt struct {
	Number          int               `json:"attempt_number"`
	Kind            harvest.ErrorKind `json:"error_kind"`
	Excerpt         string            `json:"diagnostics_excerpt"`
	Hint            []string          `json:"hint,omitempty"`
	ArtifactVersion int               `json:"artifact_version"`
	At              time.Time         `json:"at"`
}

// Session is one build attempt for one target URL.
type Session struct {
	ID         string `json:"session_id"`
	URL        string `json:"url"`
	CurrentURL string `json:"current_url,omitempty"`
	Phase      Phase  `json:"phase"`

	AccessMode    gate.Mode         `json:"access_mode,omitempty"`
	AccessReasons []string          `json:"access_reasons,omitempty"`
	Decisions     harvest.Decisions `json:"decisions"`

	// AttemptCount counts repairs in the current budget cycle.
	AttemptCount int `json:"attempt_count"`
	// LastAttempt is the highest RepairAttempt.Number ever issued.
	LastAttempt int             `json:"last_attempt"`
	Attempts    []RepairAttempt `json:"repair_attempts,omitempty"`

	// StorageState is the sealed-at-rest credential bundle. It is stored
	// apart from the session body.
	StorageState []byte `json:"-"`

	Profile    *harvest.ScanProfile     `json:"scan_profile,omitempty"`
	Verdict    *harvest.Verdict         `json:"verdict,omitempty"`
	Artifact   *harvest.Artifact        `json:"artifact,omitempty"`
	LastResult *harvest.ExecutionResult `json:"last_result,omitempty"`
	LastKind   harvest.ErrorKind        `json:"last_error_kind,omitempty"`
	Violations []contract.Violation     `json:"violations,omitempty"`

	Outcome   Outcome   `json:"outcome,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	BundleDir string    `json:"bundle_dir,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession starts a session at INIT.
func NewSession(url string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        idgen.Session(),
		URL:       url,
		Phase:     PhaseInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Target is the page the next phase works on: the current URL once a
// human has moved the browser, the original one before.
func (s *Session) Target() Target {
	u := s.CurrentURL
	if u == "" {
		u = s.URL
	}
	return Target{URL: u, StorageState: s.StorageState}
}

// Marshal serialises the session body. StorageState is not included.
func (s *Session) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSession parses a body produced by Marshal.
func UnmarshalSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("wizard: decode session: %w", err)
	}
	if !s.Phase.Valid() {
		return nil, fmt.Errorf("wizard: decode session: unknown phase %q", s.Phase)
	}
	return &s, nil
}

// clone deep-copies the session so a failing step leaves the original
// untouched.
func (s *Session) clone() (*Session, error) {
	b, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalSession(b)
	if err != nil {
		return nil, err
	}
	if s.StorageState != nil {
		c.StorageState = append([]byte(nil), s.StorageState...)
	}
	return c, nil
}
