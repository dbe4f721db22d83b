package idgen

import (
	"strings"
	"testing"
)

func TestSessionIDs(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for range 100 {
		id := Session()
		if !strings.HasPrefix(id, "sess_") {
			t.Fatalf("id %q lacks prefix", id)
		}
		if err := ParsePrefixed("sess_", id); err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if prev != "" && id < prev {
			t.Fatalf("ids not time-sortable: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestParsePrefixed(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"sess_01890a5d-ac96-774b-bcce-b302099a8057", false},
		{"01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"sess_not-a-uuid", true},
	}
	for _, tt := range tests {
		err := ParsePrefixed("sess_", tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrefixed(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}
