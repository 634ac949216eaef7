package chunking

import (
	"strings"
	"testing"
)

func TestExtractSections(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		max      int
		wantMin  int
		wantMax  int
		wantFirst string
	}{
		{
			name:      "hash headers",
			text:      "# Intro\ncontent one\n# Méthodes\ncontent two\n# Résultats\ncontent three\n",
			max:       20,
			wantMin:   3,
			wantMax:   3,
			wantFirst: "Intro",
		},
		{
			name:      "setext headers",
			text:      "Intro\n=====\nbody\n\nMéthodes\n--------\nbody\n\nRésultats\n=========\nbody\n",
			max:       20,
			wantMin:   3,
			wantMax:   3,
			wantFirst: "Intro",
		},
		{
			name:    "blank line fallback",
			text:    "Premier bloc de texte.\n\nDeuxième bloc de texte.\n\nTroisième bloc.",
			max:     20,
			wantMin: 3,
			wantMax: 3,
		},
		{
			name:    "single block falls back to equal blocks",
			text:    strings.Repeat("abcdefghij", 1000),
			max:     20,
			wantMin: 2,
			wantMax: 3,
		},
		{
			name:    "empty input",
			text:    "",
			max:     20,
			wantMin: 0,
			wantMax: 0,
		},
		{
			name:    "clipped to max sections",
			text:    "a\n\nb\n\nc\n\nd\n\ne",
			max:     2,
			wantMin: 2,
			wantMax: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections := ExtractSections(tt.text, tt.max)
			if len(sections) < tt.wantMin || len(sections) > tt.wantMax {
				t.Fatalf("got %d sections, want between %d and %d", len(sections), tt.wantMin, tt.wantMax)
			}
			if tt.wantFirst != "" && sections[0].Title != tt.wantFirst {
				t.Errorf("first title = %q, want %q", sections[0].Title, tt.wantFirst)
			}
			runes := []rune(tt.text)
			for i, s := range sections {
				if s.Start < 0 || s.End > len(runes) || s.Start >= s.End {
					t.Errorf("section %d has invalid span [%d, %d)", i, s.Start, s.End)
				}
				if i > 0 && s.Start < sections[i-1].Start {
					t.Errorf("section %d starts before its predecessor", i)
				}
			}
		})
	}
}

func TestExtractParagraphs(t *testing.T) {
	text := "Premier paragraphe avec suffisamment de contenu pour rester seul après la fusion des petits fragments voisins.\n\nDeuxième paragraphe également assez long pour être conservé comme une unité indépendante du découpage.\n\nCourt."
	paragraphs := ExtractParagraphs(text, 100, 20)

	if len(paragraphs) < 2 {
		t.Fatalf("got %d paragraphs, want at least 2", len(paragraphs))
	}
	for i, p := range paragraphs {
		if p.Start < 100 {
			t.Errorf("paragraph %d offset %d not translated by base offset", i, p.Start)
		}
		if p.End <= p.Start {
			t.Errorf("paragraph %d has empty span", i)
		}
	}
	// The trailing short fragment merges into its predecessor.
	last := paragraphs[len(paragraphs)-1]
	if !strings.Contains(last.Content, "Court.") {
		t.Errorf("short trailing fragment was dropped instead of merged: %q", last.Content)
	}
}

func TestExtractParagraphsSentenceFallback(t *testing.T) {
	// No blank lines: the splitter falls back to sentence boundaries.
	text := strings.Repeat("Une première phrase assez longue pour dépasser le seuil minimal de fusion des fragments voisins, vraiment. ", 3)
	paragraphs := ExtractParagraphs(text, 0, 20)
	if len(paragraphs) < 2 {
		t.Fatalf("got %d paragraphs from sentence fallback, want at least 2", len(paragraphs))
	}
}

func TestCreateSemanticChunks(t *testing.T) {
	sentence := "Ceci est une phrase complète qui se termine proprement. "
	text := strings.Repeat(sentence, 40)

	chunks := CreateSemanticChunks(text, 200, 50, 0, 1000)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	runes := []rune(text)
	for i, c := range chunks {
		if c.End-c.Start > 200 {
			t.Errorf("chunk %d spans %d runes, want <= 200", i, c.End-c.Start)
		}
		if c.Start < 0 || c.End > len(runes) {
			t.Errorf("chunk %d out of bounds [%d, %d)", i, c.Start, c.End)
		}
		if i > 0 && c.Start < chunks[i-1].Start {
			t.Errorf("chunk %d starts before its predecessor", i)
		}
	}
}

func TestCreateSemanticChunksOverlapClamp(t *testing.T) {
	text := strings.Repeat("x", 1000)
	// Requested overlap far exceeds maxLength/4; progress must still hold.
	chunks := CreateSemanticChunks(text, 100, 90, 0, 1000)
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start <= chunks[i-1].Start {
			t.Fatalf("chunk %d does not advance (start %d after %d)", i, chunks[i].Start, chunks[i-1].Start)
		}
		overlap := chunks[i-1].End - chunks[i].Start
		if overlap > 25 {
			t.Fatalf("chunk %d overlap %d exceeds maxLength/4", i, overlap)
		}
	}
}

func TestIsSentenceBoundary(t *testing.T) {
	tests := []struct {
		text string
		pos  int
		want bool
	}{
		{"Fin. Suite", 3, true},
		{"Fin.", 3, true},
		{"Fin.Suite", 3, false},
		{"Quoi ? Oui", 5, true},
		{"Vraiment !", 9, true},
		{"abc", 1, false},
		{"abc", 10, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		if got := IsSentenceBoundary(tt.text, tt.pos); got != tt.want {
			t.Errorf("IsSentenceBoundary(%q, %d) = %v, want %v", tt.text, tt.pos, got, tt.want)
		}
	}
}

func TestFindParagraphBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []int
	}{
		{"simple", "aaa\n\nbbb", []int{3}},
		{"indented blank", "aaa\n \t \nbbb", []int{3}},
		{"none", "aaa bbb", nil},
		{"empty", "", nil},
		{"multiple", "a\n\nb\n\nc", []int{1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindParagraphBoundaries(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("boundary %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMeaningfulPreview(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		if got := MeaningfulPreview("court", 100); got != "court" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := MeaningfulPreview("", 100); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("keeps marked sentences", func(t *testing.T) {
		filler := strings.Repeat("Du texte de remplissage sans grand intérêt. ", 30)
		text := filler + "Le point essentiel est la latence. " + filler
		preview := MeaningfulPreview(text, 400)
		if len([]rune(preview)) > 400 {
			t.Fatalf("preview length %d exceeds limit", len([]rune(preview)))
		}
		if !strings.Contains(preview, "essentiel") {
			t.Errorf("preview dropped the marked sentence: %q", preview)
		}
	})

	t.Run("bounded length", func(t *testing.T) {
		text := strings.Repeat("mot ", 5000)
		preview := MeaningfulPreview(text, 250)
		if len([]rune(preview)) > 250 {
			t.Errorf("preview length %d exceeds 250", len([]rune(preview)))
		}
	})
}
