package harvest

import "testing"

func TestVerdictFieldNames(t *testing.T) {
	v := &Verdict{AvailableFields: []FieldSpec{{Name: "title"}, {Name: "price"}}}
	got := v.FieldNames()
	if len(got) != 2 || got[0] != "title" || got[1] != "price" {
		t.Errorf("FieldNames = %v", got)
	}
}

func TestVerdictPaginated(t *testing.T) {
	tests := []struct {
		strategy string
		want     bool
	}{
		{"", false},
		{PaginationNone, false},
		{PaginationNext, true},
		{PaginationLoadMore, true},
	}
	for _, tt := range tests {
		v := &Verdict{PaginationStrategy: tt.strategy}
		if got := v.Paginated(); got != tt.want {
			t.Errorf("Paginated(%q) = %v, want %v", tt.strategy, got, tt.want)
		}
	}
}

func TestProfileMarshal(t *testing.T) {
	p := &ScanProfile{
		PageURL:           "https://example.com",
		BotDefenseSignals: []string{"cloudflare"},
		SignIn:            SignInSignal{Detected: true, Indicators: []string{"password_field"}},
		HostilityScore:    70,
	}
	data, err := MarshalProfile(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalProfile(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.HostilityScore != 70 || !got.SignIn.Detected || got.BotDefenseSignals[0] != "cloudflare" {
		t.Errorf("unexpected profile: %+v", got)
	}
}

func TestNewArtifactHash(t *testing.T) {
	a := NewArtifact(1, "package extractor")
	b := NewArtifact(2, "package extractor")
	if a.Hash != b.Hash {
		t.Error("same source must hash equally")
	}
	if len(a.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(a.Hash))
	}
}
