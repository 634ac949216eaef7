package search

import (
	"math"
	"testing"
)

func TestNormalizeScores(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   []float64
	}{
		{
			name:   "spread scores",
			scores: []float64{2, 4, 6},
			want:   []float64{0, 0.5, 1},
		},
		{
			name:   "all equal collapses to 0.5",
			scores: []float64{3.2, 3.2, 3.2},
			want:   []float64{0.5, 0.5, 0.5},
		},
		{
			name:   "single score",
			scores: []float64{42},
			want:   []float64{0.5},
		},
		{
			name:   "negative raw scores",
			scores: []float64{-4, -2},
			want:   []float64{0, 1},
		},
		{
			name:   "empty",
			scores: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeScores(tt.scores)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("score %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizeScoresIdempotent(t *testing.T) {
	// Idempotence holds for inputs already spanning the unit interval.
	unit := []float64{0, 0.25, 1}
	again := NormalizeScores(unit)
	for i := range unit {
		if math.Abs(again[i]-unit[i]) > 1e-9 {
			t.Errorf("normalization not idempotent at %d: %v -> %v", i, unit[i], again[i])
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		scores      []float64
		wantLevel   float64
		wantMessage string
	}{
		{
			name:        "weak maximum is off domain",
			scores:      []float64{0.25, 0.2, 0.1},
			wantLevel:   LevelOffDomain,
			wantMessage: MessageOffDomain,
		},
		{
			name:        "strong max but weak average is medium",
			scores:      []float64{0.9, 0.05, 0.05, 0.05},
			wantLevel:   LevelMedium,
			wantMessage: MessageMedium,
		},
		{
			name:        "middling average is good",
			scores:      []float64{0.6, 0.5, 0.4},
			wantLevel:   LevelGood,
			wantMessage: MessageGood,
		},
		{
			name:        "high average is high",
			scores:      []float64{0.9, 0.8, 0.85},
			wantLevel:   LevelHigh,
			wantMessage: MessageHigh,
		},
		{
			name:        "empty is off domain",
			scores:      nil,
			wantLevel:   LevelOffDomain,
			wantMessage: MessageOffDomain,
		},
		{
			name:        "boundary: avg exactly at high threshold",
			scores:      []float64{0.7, 0.7},
			wantLevel:   LevelHigh,
			wantMessage: MessageHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.scores)
			if got.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", got.Level, tt.wantLevel)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestClassifyStats(t *testing.T) {
	got := Classify([]float64{0.4, 0.8, 0.6, 1.0})
	if got.Stats.Min != 0.4 || got.Stats.Max != 1.0 {
		t.Errorf("min/max = %v/%v", got.Stats.Min, got.Stats.Max)
	}
	if got.Stats.Avg != 0.7 {
		t.Errorf("avg = %v, want 0.7", got.Stats.Avg)
	}
	if got.Stats.Median != 0.7 {
		t.Errorf("median = %v, want 0.7", got.Stats.Median)
	}
}

func TestClassifyIsPure(t *testing.T) {
	scores := []float64{0.5, 0.6, 0.7}
	first := Classify(scores)
	second := Classify(scores)
	if first != second {
		t.Error("classification is not deterministic")
	}
	// Input must survive untouched.
	if scores[0] != 0.5 || scores[2] != 0.7 {
		t.Error("classification mutated its input")
	}
}
