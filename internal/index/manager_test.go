package index

import (
	"testing"
)

func TestSanitizeCorpusID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"550e8400-e29b-41d4-a716-446655440000", "550e8400_e29b_41d4_a716_446655440000"},
		{"corpus42", "corpus42"},
		{"a.b c", "a_b_c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeCorpusID(tt.in); got != tt.want {
			t.Errorf("SanitizeCorpusID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectNamesAreDerivable(t *testing.T) {
	const corpus = "550e8400-e29b-41d4-a716-446655440000"
	if got := ProjectionName(corpus); got != "proj_550e8400_e29b_41d4_a716_446655440000" {
		t.Errorf("projection name = %q", got)
	}
	if got := IndexName(corpus); got != "idx_vector_550e8400_e29b_41d4_a716_446655440000" {
		t.Errorf("index name = %q", got)
	}
	// Stability: the same id maps to the same names.
	if ProjectionName(corpus) != ProjectionName(corpus) {
		t.Error("projection name not stable")
	}
}

func TestIVFLists(t *testing.T) {
	tests := []struct {
		chunks int
		want   int
	}{
		{0, 1},
		{1, 1},
		{121, 11},
		{10_000, 100},
		{2_000_000, 1000}, // clamped
	}
	for _, tt := range tests {
		if got := IVFLists(tt.chunks); got != tt.want {
			t.Errorf("IVFLists(%d) = %d, want %d", tt.chunks, got, tt.want)
		}
	}
}
