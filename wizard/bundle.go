package wizard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/gate"
)

// Manifest describes a hardened extractor bundle.
type Manifest struct {
	SessionID          string                   `json:"session_id"`
	URL                string                   `json:"url"`
	StartURL           string                   `json:"start_url"`
	AccessMode         gate.Mode                `json:"access_mode"`
	Hostility          int                      `json:"hostility_score"`
	Decisions          harvest.Decisions        `json:"decisions"`
	Fields             []harvest.FieldSpec      `json:"fields"`
	PaginationStrategy string                   `json:"pagination_strategy"`
	Artifact           ArtifactRef              `json:"artifact"`
	RepairAttempts     []RepairAttempt          `json:"repair_attempts,omitempty"`
	Outcome            Outcome                  `json:"outcome"`
	Result             *harvest.ExecutionResult `json:"result,omitempty"`
	Profile            *harvest.ScanProfile     `json:"scan_profile,omitempty"`
	WrittenAt          time.Time                `json:"written_at"`
}

// ArtifactRef identifies the bundled extractor.
type ArtifactRef struct {
	File    string `json:"file"`
	Version int    `json:"version"`
	Hash    string `json:"hash"`
}

const (
	bundleSource   = "extractor.go"
	bundleManifest = "session.json"
)

func writeBundle(dir string, s *Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundleSource), []byte(s.Artifact.Source), 0o644); err != nil {
		return fmt.Errorf("bundle: write source: %w", err)
	}

	now := time.Now().UTC()
	m := Manifest{
		SessionID:      s.ID,
		URL:            s.URL,
		StartURL:       s.Target().URL,
		AccessMode:     s.AccessMode,
		Decisions:      s.Decisions,
		Artifact:       ArtifactRef{File: bundleSource, Version: s.Artifact.Version, Hash: s.Artifact.Hash},
		RepairAttempts: s.Attempts,
		Outcome:        s.Outcome,
		Result:         s.LastResult,
		Profile:        s.Profile,
		WrittenAt:      now,
	}
	if s.Profile != nil {
		m.Hostility = s.Profile.HostilityScore
	}
	if s.Verdict != nil {
		m.Fields = s.Verdict.AvailableFields
		m.PaginationStrategy = s.Verdict.PaginationStrategy
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundleManifest), data, 0o644); err != nil {
		return fmt.Errorf("bundle: write manifest: %w", err)
	}
	return writeReport(dir, s, now)
}

// ReadManifest loads the manifest of a bundle directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, bundleManifest))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bundle: decode manifest: %w", err)
	}
	return &m, nil
}
