package chunking

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/WillIsback/clea-api/internal/utils"
)

// Design-fixed segmentation bounds.
const (
	// MaxChunks caps the total number of chunks emitted for one document.
	MaxChunks = 5000
	// MaxTextLength is the largest accepted source text, in bytes.
	MaxTextLength = 20_000_000
	// MaxChunkSize bounds a single chunk's content, in runes.
	MaxChunkSize = 8000
	// MinLevel3Length is the smallest paragraph that gets fine-grained chunks.
	MinLevel3Length = 200
	// MaxLevel3PerParagraph caps fine-grained chunks under one paragraph.
	MaxLevel3PerParagraph = 100
	// LargeThresholdBytes marks documents worth logging as large inputs.
	LargeThresholdBytes = 5_000_000

	maxSectionsPerDocument  = 20
	maxParagraphsPerSection = 20
)

// Hierarchy levels of emitted chunks.
const (
	LevelDocument  = 0
	LevelSection   = 1
	LevelParagraph = 2
	LevelDetail    = 3
)

// ErrInputTooLarge reports a source text exceeding MaxTextLength.
var ErrInputTooLarge = errors.New("input text exceeds maximum length")

// Chunk is one element of a segmentation stream. ParentIndex refers to the
// position of the parent chunk earlier in the same stream, or -1 for the
// root. Offsets are rune positions into the source text.
type Chunk struct {
	Content        string
	StartChar      int
	EndChar        int
	HierarchyLevel int
	ParentIndex    int
}

// Validate rejects inputs the segmenter will not process.
func Validate(text string) error {
	if len(text) > MaxTextLength {
		return fmt.Errorf("%w: %d bytes", ErrInputTooLarge, len(text))
	}
	return nil
}

// SemanticStream yields the hierarchical segmentation of text as a lazy,
// finite, non-restartable sequence.
//
// The stream opens with exactly one level-0 preview chunk, then walks
// sections (level 1), paragraphs (level 2) and fine-grained overlapping
// chunks (level 3), stopping as soon as MaxChunks chunks have been emitted.
// Duplicate trimmed content under the same parent is suppressed. Callers
// must run Validate first; empty input yields the lone root chunk.
func SemanticStream(text string, maxLength int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		emitted := 0
		emit := func(c Chunk) bool {
			if emitted >= MaxChunks {
				return false
			}
			emitted++
			return yield(c)
		}

		rootIdx, ok := emitRoot(text, maxLength, emit)
		if !ok || text == "" {
			return
		}

		overlap := maxLength / 10
		if overlap < 50 {
			overlap = 50
		}

		seenSections := make(map[string]struct{})
		for _, section := range ExtractSections(text, maxSectionsPerDocument) {
			sectionKey := strings.TrimSpace(section.Content)
			if sectionKey == "" {
				continue
			}
			if _, dup := seenSections[sectionKey]; dup {
				continue
			}
			seenSections[sectionKey] = struct{}{}

			sectionIdx := emitted
			if !emit(clipChunk(section.Content, section.Start, LevelSection, rootIdx)) {
				return
			}

			seenParagraphs := make(map[string]struct{})
			for _, para := range ExtractParagraphs(section.Content, section.Start, maxParagraphsPerSection) {
				key := strings.TrimSpace(para.Content)
				if key == "" {
					continue
				}
				if _, dup := seenParagraphs[key]; dup {
					continue
				}
				seenParagraphs[key] = struct{}{}

				paraIdx := emitted
				if !emit(clipChunk(para.Content, para.Start, LevelParagraph, sectionIdx)) {
					return
				}

				if len([]rune(para.Content)) < MinLevel3Length {
					continue
				}

				seenDetails := make(map[string]struct{})
				base := para.Start
				for _, frag := range CreateSemanticChunks(para.Content, maxLength, overlap, base, MaxLevel3PerParagraph) {
					key := strings.TrimSpace(frag.Content)
					if _, dup := seenDetails[key]; dup {
						continue
					}
					seenDetails[key] = struct{}{}

					if !emit(clipChunk(frag.Content, frag.Start, LevelDetail, paraIdx)) {
						return
					}
				}
			}
		}
	}
}

// FallbackStream yields a flat sliding-window segmentation: one level-0
// preview followed by level-3 windows parented to it. Cut points snap to the
// nearest sentence boundary within a ±10% window, then to the nearest
// paragraph boundary, then fall back to a hard cut.
func FallbackStream(text string, maxLength int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		emitted := 0
		emit := func(c Chunk) bool {
			if emitted >= MaxChunks {
				return false
			}
			emitted++
			return yield(c)
		}

		rootIdx, ok := emitRoot(text, maxLength, emit)
		if !ok || text == "" {
			return
		}

		window := maxLength * 2
		if window > MaxChunkSize {
			window = MaxChunkSize
		}
		if window < 1 {
			window = 1
		}
		overlap := window / 10

		runes := []rune(text)
		total := len(runes)

		start := 0
		for start < total {
			end := start + window
			if end >= total {
				end = total
			} else {
				end = snapNearest(runes, end, window/10)
				if end <= start {
					end = start + window
					if end > total {
						end = total
					}
				}
			}

			s, e := trimSpan(runes, start, end)
			if e > s {
				if !emit(Chunk{
					Content:        string(runes[s:e]),
					StartChar:      s,
					EndChar:        e,
					HierarchyLevel: LevelDetail,
					ParentIndex:    rootIdx,
				}) {
					return
				}
			}

			if end >= total {
				return
			}
			next := end - overlap
			if next <= start {
				next = start + 1
			}
			start = next
		}
	}
}

// Stream selects between the two strategies: the semantic path wins unless
// it produces nothing beyond the root, in which case the sliding window
// takes over. The returned sequence is single-use.
func Stream(text string, maxLength int) (iter.Seq[Chunk], error) {
	if err := Validate(text); err != nil {
		return nil, err
	}

	next, stop := iter.Pull(SemanticStream(text, maxLength))

	var buffered []Chunk
	for len(buffered) < 2 {
		c, ok := next()
		if !ok {
			break
		}
		buffered = append(buffered, c)
	}

	if len(buffered) <= 1 {
		stop()
		return FallbackStream(text, maxLength), nil
	}

	replay := func(yield func(Chunk) bool) {
		defer stop()
		for _, c := range buffered {
			if !yield(c) {
				return
			}
		}
		for {
			c, ok := next()
			if !ok {
				return
			}
			if !yield(c) {
				return
			}
		}
	}
	return replay, nil
}

// emitRoot emits the single level-0 preview chunk and returns its index. The
// preview is squeezed through the blank-line collapser so blank-heavy
// documents still yield a readable root.
func emitRoot(text string, maxLength int, emit func(Chunk) bool) (int, bool) {
	previewLen := maxLength
	if previewLen > MaxChunkSize {
		previewLen = MaxChunkSize
	}

	end := len([]rune(text))
	if end > MaxChunkSize {
		end = MaxChunkSize
	}

	// The byte budget is generous on purpose: the preview is already
	// rune-bounded, only the blank runs should go.
	preview := MeaningfulPreview(text, previewLen)
	preview = utils.CollapseBlankLines(preview, previewLen*4)

	root := Chunk{
		Content:        preview,
		StartChar:      0,
		EndChar:        end,
		HierarchyLevel: LevelDocument,
		ParentIndex:    -1,
	}
	return 0, emit(root)
}

// clipChunk bounds a fragment's content and span to MaxChunkSize runes.
func clipChunk(content string, start, level, parentIdx int) Chunk {
	runes := []rune(content)
	if len(runes) > MaxChunkSize {
		runes = runes[:MaxChunkSize]
	}
	return Chunk{
		Content:        string(runes),
		StartChar:      start,
		EndChar:        start + len(runes),
		HierarchyLevel: level,
		ParentIndex:    parentIdx,
	}
}

// snapNearest returns the cut position closest to target within ±radius,
// preferring sentence boundaries over paragraph boundaries.
func snapNearest(runes []rune, target, radius int) int {
	low := target - radius
	if low < 1 {
		low = 1
	}
	high := target + radius
	if high > len(runes)-1 {
		high = len(runes) - 1
	}

	best := -1
	bestDist := radius + 1
	for pos := low; pos <= high; pos++ {
		if isSentenceBoundaryAt(runes, pos) {
			dist := pos - target
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist {
				best = pos + 1
				bestDist = dist
			}
		}
	}
	if best >= 0 {
		return best
	}

	bestDist = radius + 1
	for pos := low; pos <= high; pos++ {
		if runes[pos] != '\n' {
			continue
		}
		// A paragraph boundary: this newline closes a blank line.
		k := pos - 1
		for k >= 0 && (runes[k] == ' ' || runes[k] == '\t') {
			k--
		}
		if k >= 0 && runes[k] == '\n' {
			dist := pos - target
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist {
				best = pos + 1
				bestDist = dist
			}
		}
	}
	if best >= 0 {
		return best
	}
	return target
}
