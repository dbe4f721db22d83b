package harvest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MarshalProfile serialises a ScanProfile to JSON.
func MarshalProfile(p *ScanProfile) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalProfile deserialises a ScanProfile from JSON.
func UnmarshalProfile(data []byte) (*ScanProfile, error) {
	var p ScanProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// HashSource returns the SHA-256 hex digest of artifact source.
func HashSource(src string) string {
	h := sha256.Sum256([]byte(src))
	return fmt.Sprintf("%x", h)
}

// NewArtifact builds an Artifact with its content hash.
func NewArtifact(version int, src string) Artifact {
	return Artifact{Version: version, Source: src, Hash: HashSource(src)}
}
